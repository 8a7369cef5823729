package episode

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/geom"
)

// GenerateCollisionSpheres fills a bounding box with spheres drawn from
// the radius working set, largest first. Origins are kept inside the box
// without crossing its center, and coincident origins keep only the
// first (larger) sphere.
func GenerateCollisionSpheres(box geom.AABB, technique string, radii []float64) ([]collection.Sphere, error) {
	sorted := append([]float64(nil), radii...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var spheres []collection.Sphere
	switch technique {
	case collection.SpheresBox:
		spheres = boxSpheres(box, sorted)
	case collection.SpheresUprightCylinder:
		spheres = cylinderSpheres(box, sorted)
	default:
		return nil, fmt.Errorf("%w: unknown sphere technique %q", ErrInvalidEpisode, technique)
	}

	center := box.Center()
	for i := range spheres {
		o := spheres[i].OriginVec()
		r := spheres[i].Radius
		o.X = clampTowardCenter(o.X, box.Min.X, box.Max.X, center.X, r)
		o.Y = clampTowardCenter(o.Y, box.Min.Y, box.Max.Y, center.Y, r)
		o.Z = clampTowardCenter(o.Z, box.Min.Z, box.Max.Z, center.Z, r)
		spheres[i].Origin = [3]float64{o.X, o.Y, o.Z}
	}

	out := spheres[:0]
	for _, s := range spheres {
		dup := false
		for _, kept := range out {
			if kept.Origin == s.Origin {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: box %v too small for any working-set radius", ErrInvalidEpisode, box.Size())
	}
	return out, nil
}

// boxSpheres lattices the largest radius through the box and puts the
// smaller radii at the corners.
func boxSpheres(box geom.AABB, radii []float64) []collection.Sphere {
	var spheres []collection.Sphere
	size := box.Size()
	for i, r := range radii {
		if r3.Norm(size) < 2*r || size.Y < 2*r {
			continue
		}
		if i > 0 {
			for c := 0; c < 8; c++ {
				spheres = append(spheres, sphereAt(box.Corner(c), r))
			}
			continue
		}
		nx := int(size.X/(2*r)) + 1
		ny := int(size.Y/(2*r)) + 1
		nz := int(size.Z/(2*r)) + 1
		for ix := 0; ix < nx; ix++ {
			x := latticeCoord(box.Min.X+r, box.Max.X-r, ix, nx)
			for iy := 0; iy < ny; iy++ {
				y := latticeCoord(box.Min.Y+r, box.Max.Y-r, iy, ny)
				for iz := 0; iz < nz; iz++ {
					z := latticeCoord(box.Min.Z+r, box.Max.Z-r, iz, nz)
					spheres = append(spheres, sphereAt(r3.Vec{X: x, Y: y, Z: z}, r))
				}
			}
		}
	}
	return spheres
}

// cylinderSpheres rings the top and bottom faces of an upright cylinder
// with four spheres per radius.
func cylinderSpheres(box geom.AABB, radii []float64) []collection.Sphere {
	var spheres []collection.Sphere
	c := box.Center()
	for _, r := range radii {
		if r3.Norm(box.Size()) < 2*r {
			continue
		}
		for _, y := range []float64{box.Min.Y, box.Max.Y} {
			spheres = append(spheres,
				sphereAt(r3.Vec{X: box.Min.X, Y: y, Z: c.Z}, r),
				sphereAt(r3.Vec{X: box.Max.X, Y: y, Z: c.Z}, r),
				sphereAt(r3.Vec{X: c.X, Y: y, Z: box.Min.Z}, r),
				sphereAt(r3.Vec{X: c.X, Y: y, Z: box.Max.Z}, r),
			)
		}
	}
	return spheres
}

func latticeCoord(lo, hi float64, i, n int) float64 {
	if n == 1 {
		return lo
	}
	return geom.Lerp(lo, hi, float64(i)/float64(n-1))
}

func sphereAt(p r3.Vec, r float64) collection.Sphere {
	return collection.Sphere{Origin: [3]float64{p.X, p.Y, p.Z}, Radius: r}
}

func clampTowardCenter(v, lo, hi, center, r float64) float64 {
	if v < center {
		return geom.Clamp(v, min(lo+r, center), center)
	}
	return geom.Clamp(v, center, max(hi-r, center))
}
