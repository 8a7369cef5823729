// Package placement finds a resting pose for a dropped free object.
package placement

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/broadphase"
	"github.com/pthm-cable/batchsim/columngrid"
	"github.com/pthm-cable/batchsim/episode"
	"github.com/pthm-cable/batchsim/geom"
)

// Options tunes the placement search.
type Options struct {
	MaxFailedPlacements int     `yaml:"max_failed_placements"`
	ProbeRadiusIndex    int     `yaml:"probe_radius_index"`
	MinValidCastDown    float64 `yaml:"min_valid_cast_down"`
	MaxValidCastDown    float64 `yaml:"max_valid_cast_down"`
	WallTolerance       float64 `yaml:"wall_tolerance"`
}

// DefaultOptions returns the stock search parameters.
func DefaultOptions() Options {
	return Options{
		MaxFailedPlacements: 6,
		ProbeRadiusIndex:    0,
		MinValidCastDown:    -0.2,
		MaxValidCastDown:    1000,
		WallTolerance:       0.05,
	}
}

// hintSpread is the random spread around a hinted direction, in radians.
const hintSpread = math.Pi / 3

// minHintDist2 is the squared horizontal distance below which a blocking
// obstacle gives no usable direction.
const minHintDist2 = 1e-3

// Helper drops objects into one environment's scene.
type Helper struct {
	grids *columngrid.Set
	grid  *broadphase.Grid
	rng   *rand.Rand
	opts  Options
}

// NewHelper returns a helper over a scene's column grids and an
// environment's broadphase grid.
func NewHelper(grids *columngrid.Set, grid *broadphase.Grid, rng *rand.Rand, opts Options) *Helper {
	if opts.MaxFailedPlacements <= 0 {
		panic("placement: MaxFailedPlacements must be positive")
	}
	return &Helper{grids: grids, grid: grid, rng: rng, opts: opts}
}

// Place lowers the object at xf onto the surface below it. When the spot
// is blocked it bumps the object sideways and retries, at most
// MaxFailedPlacements times. On failure xf's translation is set to
// fallback if one is given. Place reports whether xf holds a usable pose
// and whether that pose is the fallback.
func (h *Helper) Place(xf *geom.Transform, obj *episode.FreeObject, fallback *r3.Vec) (ok, usedFallback bool) {
	probeIdx := h.opts.ProbeRadiusIndex
	probeR := h.grids.SphereRadius(probeIdx)

	failed := 0
	success := false
	for {
		var cache columngrid.QueryCache
		hint, haveHint := 0.0, false

		probe := h.probeOrigin(*xf, obj, probeR)
		castDown := h.grids.CastDownTest(probeIdx, probe, &cache)
		surfaceY := probe.Y - castDown - probeR

		if castDown > h.opts.MinValidCastDown && castDown <= h.opts.MaxValidCastDown && h.grid.Contains(xf.Translation) {
			xf.Translation.Y -= castDown

			hit, hitWall := h.testSpheres(*xf, obj, surfaceY, &cache)
			if hit == -1 && !hitWall {
				success = true
				break
			}
			xf.Translation.Y += castDown

			if hit != -1 && failed < h.opts.MaxFailedPlacements-1 {
				obs := h.grid.Obstacle(hit)
				dx := xf.Translation.X - obs.Pos.X
				dz := xf.Translation.Z - obs.Pos.Z
				if dx*dx+dz*dz > minHintDist2 {
					hint, haveHint = math.Atan2(dz, dx), true
				}
			}
		}

		failed++
		if failed >= h.opts.MaxFailedPlacements {
			break
		}

		if haveHint {
			hint += (h.rng.Float64()*2 - 1) * hintSpread
		} else {
			hint = h.rng.Float64() * 2 * math.Pi
		}
		bump := r3.Norm(obj.AABB.Size())
		xf.Translation.X += math.Cos(hint) * bump
		xf.Translation.Z += math.Sin(hint) * bump
	}

	if !success && fallback != nil {
		xf.Translation = *fallback
		return true, true
	}
	return success, false
}

// probeOrigin is a probe sphere under the object's center, resting on
// its lowest rotated corner.
func (h *Helper) probeOrigin(xf geom.Transform, obj *episode.FreeObject, r float64) r3.Vec {
	center := xf.Point(obj.AABB.Center())
	minY := math.Inf(1)
	for i := 0; i < 8; i++ {
		minY = math.Min(minY, xf.Vector(obj.AABB.Corner(i)).Y)
	}
	return r3.Vec{X: center.X, Y: minY + xf.Translation.Y + r, Z: center.Z}
}

// testSpheres checks the object's spheres against other free objects and
// against static geometry rising above the probe surface (a wall).
func (h *Helper) testSpheres(xf geom.Transform, obj *episode.FreeObject, surfaceY float64, cache *columngrid.QueryCache) (int, bool) {
	for _, s := range obj.CollisionSpheres {
		r := h.grids.SphereRadius(s.RadiusIdx)
		p := xf.Point(s.Origin)
		if hit := h.grid.ContactTest(p, r); hit != -1 {
			return hit, false
		}
		castDown := h.grids.CastDownTest(s.RadiusIdx, p, cache)
		if p.Y-castDown-r > surfaceY+r+h.opts.WallTolerance {
			return -1, true
		}
	}
	return -1, false
}
