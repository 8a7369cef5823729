// Package broadphase provides a uniform 2D grid over the ground plane that
// holds oriented-box obstacles and answers sphere contact queries.
//
// One Grid exists per environment and holds that environment's free
// objects. Obstacle slot indices are stable for the life of an episode and
// match the free-object index used everywhere else.
package broadphase

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
)

var (
	// ErrGridBudget is returned when the domain cannot be covered within the byte budget.
	ErrGridBudget = errors.New("broadphase: grid exceeds memory budget")
	// ErrOutOfDomain is returned when an obstacle is placed outside the grid domain.
	ErrOutOfDomain = errors.New("broadphase: obstacle outside grid domain")
)

// bytesPerCell approximates the footprint of one cell: a slice header plus
// a handful of int16 slots.
const bytesPerCell = 24 + 4*2

// Obstacle is a grid entry: an oriented box placed at Pos.
type Obstacle struct {
	Pos         r3.Vec
	InvRotation quat.Number
	AABB        *geom.AABB

	disabled bool
	cells    []int32
}

// Rotation returns the obstacle's world rotation.
func (o *Obstacle) Rotation() quat.Number {
	return geom.InverseRotation(o.InvRotation)
}

// Transform returns the obstacle's local-to-world transform.
func (o *Obstacle) Transform() geom.Transform {
	return geom.Transform{Rotation: o.Rotation(), Translation: o.Pos}
}

// Grid is a uniform grid of obstacle lists.
type Grid struct {
	maxQueryRadius float64
	minX, minZ     float64
	maxX, maxZ     float64
	spacing        float64
	invSpacing     float64
	dimX, dimZ     int

	cells     [][]int16
	obstacles []Obstacle
}

// NewGrid creates a grid covering [minX,maxX]x[minZ,maxZ] with cells of
// maxGridSpacing. Queries may use spheres up to maxQueryRadius.
func NewGrid(maxQueryRadius, minX, minZ, maxX, maxZ float64, maxBytes int, maxGridSpacing float64) (*Grid, error) {
	if maxGridSpacing <= 0 || maxX <= minX || maxZ <= minZ {
		return nil, fmt.Errorf("broadphase: invalid domain [%g,%g]x[%g,%g] spacing %g",
			minX, maxX, minZ, maxZ, maxGridSpacing)
	}

	dimX := int(math.Ceil((maxX-minX)/maxGridSpacing)) + 1
	dimZ := int(math.Ceil((maxZ-minZ)/maxGridSpacing)) + 1
	if need := dimX * dimZ * bytesPerCell; need > maxBytes {
		return nil, fmt.Errorf("%w: %dx%d cells at spacing %g need %d bytes, budget %d",
			ErrGridBudget, dimX, dimZ, maxGridSpacing, need, maxBytes)
	}

	return &Grid{
		maxQueryRadius: maxQueryRadius,
		minX:           minX,
		minZ:           minZ,
		maxX:           maxX,
		maxZ:           maxZ,
		spacing:        maxGridSpacing,
		invSpacing:     1 / maxGridSpacing,
		dimX:           dimX,
		dimZ:           dimZ,
		cells:          make([][]int16, dimX*dimZ),
	}, nil
}

// Contains reports whether p lies inside the grid's horizontal domain.
func (g *Grid) Contains(p r3.Vec) bool {
	return p.X >= g.minX && p.X <= g.maxX && p.Z >= g.minZ && p.Z <= g.maxZ
}

// MaxQueryRadius returns the largest sphere radius ContactTest accepts.
func (g *Grid) MaxQueryRadius() float64 {
	return g.maxQueryRadius
}

// NumObstacles returns the number of allocated slots, disabled or not.
func (g *Grid) NumObstacles() int {
	return len(g.obstacles)
}

// Obstacle returns the obstacle in slot i.
func (g *Grid) Obstacle(i int) Obstacle {
	return g.obstacles[i]
}

// IsObstacleDisabled reports whether slot i is excluded from queries.
func (g *Grid) IsObstacleDisabled(i int) bool {
	return g.obstacles[i].disabled
}

// InsertObstacle adds an enabled obstacle and returns its slot index.
func (g *Grid) InsertObstacle(pos r3.Vec, rot quat.Number, aabb *geom.AABB) (int, error) {
	if !g.Contains(pos) {
		return -1, fmt.Errorf("%w: insert at (%g, %g)", ErrOutOfDomain, pos.X, pos.Z)
	}
	if len(g.obstacles) >= math.MaxInt16 {
		return -1, fmt.Errorf("broadphase: too many obstacles (%d)", len(g.obstacles))
	}

	idx := len(g.obstacles)
	g.obstacles = append(g.obstacles, Obstacle{
		Pos:         pos,
		InvRotation: geom.InverseRotation(rot),
		AABB:        aabb,
	})
	g.register(idx)
	return idx, nil
}

// DisableObstacle excludes slot i from queries without releasing it.
func (g *Grid) DisableObstacle(i int) {
	g.obstacles[i].disabled = true
}

// ReinsertObstacle moves slot i to a new pose and enables it.
func (g *Grid) ReinsertObstacle(i int, pos r3.Vec, rot quat.Number) error {
	if !g.Contains(pos) {
		return fmt.Errorf("%w: reinsert slot %d at (%g, %g)", ErrOutOfDomain, i, pos.X, pos.Z)
	}
	g.unregister(i)
	obs := &g.obstacles[i]
	obs.Pos = pos
	obs.InvRotation = geom.InverseRotation(rot)
	obs.disabled = false
	g.register(i)
	return nil
}

// RemoveAllObstacles empties the grid.
func (g *Grid) RemoveAllObstacles() {
	for i := range g.obstacles {
		for _, c := range g.obstacles[i].cells {
			g.cells[c] = g.cells[c][:0]
		}
	}
	g.obstacles = g.obstacles[:0]
}

// ContactTest returns the slot of an enabled obstacle touching the sphere
// at p with the given radius, or -1. When several obstacles touch, the one
// listed first in the cell wins.
func (g *Grid) ContactTest(p r3.Vec, radius float64) int {
	if radius > g.maxQueryRadius {
		panic(fmt.Sprintf("broadphase: query radius %g exceeds max %g", radius, g.maxQueryRadius))
	}
	c, ok := g.cellIndex(p.X, p.Z)
	if !ok {
		return -1
	}

	r2 := radius * radius
	for _, slot := range g.cells[c] {
		obs := &g.obstacles[slot]
		if obs.disabled {
			continue
		}
		local := geom.Rotate(obs.InvRotation, r3.Sub(p, obs.Pos))
		d := r3.Sub(local, obs.AABB.ClosestPoint(local))
		if r3.Norm2(d) <= r2 {
			return int(slot)
		}
	}
	return -1
}

// register adds slot i to every cell its padded footprint overlaps.
func (g *Grid) register(i int) {
	obs := &g.obstacles[i]
	reach := obs.AABB.FootprintRadius(obs.Rotation()) + g.maxQueryRadius

	x0 := g.clampX(int(math.Floor((obs.Pos.X - reach - g.minX) * g.invSpacing)))
	x1 := g.clampX(int(math.Floor((obs.Pos.X + reach - g.minX) * g.invSpacing)))
	z0 := g.clampZ(int(math.Floor((obs.Pos.Z - reach - g.minZ) * g.invSpacing)))
	z1 := g.clampZ(int(math.Floor((obs.Pos.Z + reach - g.minZ) * g.invSpacing)))

	obs.cells = obs.cells[:0]
	for cz := z0; cz <= z1; cz++ {
		for cx := x0; cx <= x1; cx++ {
			if !g.cellTouchesDisk(cx, cz, obs.Pos.X, obs.Pos.Z, reach) {
				continue
			}
			c := int32(cz*g.dimX + cx)
			g.cells[c] = append(g.cells[c], int16(i))
			obs.cells = append(obs.cells, c)
		}
	}
}

// unregister removes slot i from all the cells it occupies.
func (g *Grid) unregister(i int) {
	obs := &g.obstacles[i]
	for _, c := range obs.cells {
		list := g.cells[c]
		for k, slot := range list {
			if int(slot) == i {
				g.cells[c] = append(list[:k], list[k+1:]...)
				break
			}
		}
	}
	obs.cells = obs.cells[:0]
}

func (g *Grid) cellTouchesDisk(cx, cz int, x, z, r float64) bool {
	x0 := g.minX + float64(cx)*g.spacing
	z0 := g.minZ + float64(cz)*g.spacing
	dx := x - geom.Clamp(x, x0, x0+g.spacing)
	dz := z - geom.Clamp(z, z0, z0+g.spacing)
	return dx*dx+dz*dz <= r*r
}

// cellIndex returns the flat cell index containing (x, z).
func (g *Grid) cellIndex(x, z float64) (int, bool) {
	cx := int(math.Floor((x - g.minX) * g.invSpacing))
	cz := int(math.Floor((z - g.minZ) * g.invSpacing))
	if cx < 0 || cx >= g.dimX || cz < 0 || cz >= g.dimZ {
		return 0, false
	}
	return cz*g.dimX + cx, true
}

func (g *Grid) clampX(cx int) int {
	if cx < 0 {
		return 0
	}
	if cx >= g.dimX {
		return g.dimX - 1
	}
	return cx
}

func (g *Grid) clampZ(cz int) int {
	if cz < 0 {
		return 0
	}
	if cz >= g.dimZ {
		return g.dimZ - 1
	}
	return cz
}
