// Package columngrid answers sphere-vs-static-scene queries from a baked
// column occupancy field.
//
// Each grid cell stores the free vertical intervals for sphere centers of
// one radius class, sorted by increasing Y. A sphere collides when its
// center height lies outside every free interval of its cell. One Source
// exists per radius class; a Set dispatches by radius index. Sets are
// immutable after baking or loading and are shared across environments.
package columngrid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Interval is a free span of sphere-center heights.
type Interval struct {
	MinY, MaxY float64
}

// Contains reports whether y lies in the interval.
func (iv Interval) Contains(y float64) bool {
	return y >= iv.MinY && y <= iv.MaxY
}

// QueryCache remembers the interval a sphere was last found in. The zero
// value forces a full column scan.
type QueryCache int

// Bounds is the horizontal extent covered by a grid.
type Bounds struct {
	MinX, MinZ float64
	MaxX, MaxZ float64
}

// Source is the column grid for one sphere radius.
type Source struct {
	SphereRadius float64
	MinX, MinZ   float64
	GridSpacing  float64
	DimX, DimZ   int

	// cellStart[c]..cellStart[c+1] indexes intervals for cell c.
	cellStart []int32
	intervals []Interval
}

func newSource(radius float64, b Bounds, spacing float64) *Source {
	dimX := int(math.Ceil((b.MaxX-b.MinX)/spacing)) + 1
	dimZ := int(math.Ceil((b.MaxZ-b.MinZ)/spacing)) + 1
	return &Source{
		SphereRadius: radius,
		MinX:         b.MinX,
		MinZ:         b.MinZ,
		GridSpacing:  spacing,
		DimX:         dimX,
		DimZ:         dimZ,
		cellStart:    make([]int32, dimX*dimZ+1),
	}
}

// Column returns the free intervals of the cell containing (x, z), or
// false when the point is outside the grid.
func (s *Source) Column(x, z float64) ([]Interval, bool) {
	cx := int(math.Floor((x - s.MinX) / s.GridSpacing))
	cz := int(math.Floor((z - s.MinZ) / s.GridSpacing))
	if cx < 0 || cx >= s.DimX || cz < 0 || cz >= s.DimZ {
		return nil, false
	}
	c := cz*s.DimX + cx
	return s.intervals[s.cellStart[c]:s.cellStart[c+1]], true
}

// cellCenter returns the world XZ center of cell (cx, cz).
func (s *Source) cellCenter(cx, cz int) (float64, float64) {
	return s.MinX + (float64(cx)+0.5)*s.GridSpacing, s.MinZ + (float64(cz)+0.5)*s.GridSpacing
}

// ContactTest reports whether a sphere centered at p collides with static
// geometry. Out-of-grid points always collide.
func (s *Source) ContactTest(p r3.Vec, cache *QueryCache) bool {
	col, ok := s.Column(p.X, p.Z)
	if !ok {
		return true
	}
	if c := int(*cache); c < len(col) && col[c].Contains(p.Y) {
		return false
	}
	for i, iv := range col {
		if p.Y < iv.MinY {
			break
		}
		if p.Y <= iv.MaxY {
			*cache = QueryCache(i)
			return false
		}
	}
	return true
}

// CastDownTest returns how far a sphere at p can drop before resting on
// static geometry. A negative result is the distance the sphere must rise
// to leave penetration. +Inf means no surface below (or out of grid).
func (s *Source) CastDownTest(p r3.Vec, cache *QueryCache) float64 {
	col, ok := s.Column(p.X, p.Z)
	if !ok {
		return math.Inf(1)
	}
	if c := int(*cache); c < len(col) && col[c].Contains(p.Y) {
		return p.Y - col[c].MinY
	}
	for i, iv := range col {
		if p.Y < iv.MinY {
			*cache = QueryCache(i)
			return p.Y - iv.MinY
		}
		if p.Y <= iv.MaxY {
			*cache = QueryCache(i)
			return p.Y - iv.MinY
		}
	}
	return math.Inf(1)
}

// Set holds one Source per collision radius class.
type Set struct {
	sources []*Source
}

// NewSet wraps sources, ordered by radius index.
func NewSet(sources ...*Source) *Set {
	return &Set{sources: sources}
}

// NumSources returns the number of radius classes.
func (s *Set) NumSources() int {
	return len(s.sources)
}

// Source returns the grid for radius index i.
func (s *Set) Source(i int) *Source {
	return s.sources[i]
}

// SphereRadius returns the radius of class i.
func (s *Set) SphereRadius(i int) float64 {
	return s.sources[i].SphereRadius
}

// ContactTest queries the grid for radius class radiusIdx.
func (s *Set) ContactTest(radiusIdx int, p r3.Vec, cache *QueryCache) bool {
	return s.sources[radiusIdx].ContactTest(p, cache)
}

// CastDownTest casts down in the grid for radius class radiusIdx.
func (s *Set) CastDownTest(radiusIdx int, p r3.Vec, cache *QueryCache) float64 {
	return s.sources[radiusIdx].CastDownTest(p, cache)
}

// Validate checks the sorted, non-overlapping interval invariant.
func (s *Set) Validate() error {
	for ri, src := range s.sources {
		for c := 0; c < src.DimX*src.DimZ; c++ {
			col := src.intervals[src.cellStart[c]:src.cellStart[c+1]]
			for i, iv := range col {
				if iv.MinY > iv.MaxY {
					return fmt.Errorf("columngrid: radius %d cell %d interval %d inverted (%g > %g)",
						ri, c, i, iv.MinY, iv.MaxY)
				}
				if i > 0 && col[i-1].MaxY >= iv.MinY {
					return fmt.Errorf("columngrid: radius %d cell %d intervals %d and %d overlap",
						ri, c, i-1, i)
				}
			}
		}
	}
	return nil
}
