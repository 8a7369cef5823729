package episode

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/broadphase"
	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/columngrid"
	"github.com/pthm-cable/batchsim/geom"
)

// GeneratorOptions controls procedural episode sets.
type GeneratorOptions struct {
	NumEpisodes       int     `yaml:"num_episodes"`
	NumStaticScenes   int     `yaml:"num_static_scenes"`
	ObjectsPerEpisode int     `yaml:"objects_per_episode"`
	RoomSize          float64 `yaml:"room_size"`
	ColumnGridSpacing float64 `yaml:"column_grid_spacing"`
}

// Room layout constants.
const (
	floorThickness = 0.1
	wallThickness  = 0.1
	wallHeight     = 1.2
	tableHeight    = 0.75
	tableTop       = 0.05
	tablesPerRoom  = 3

	robotClearance = 0.6
	maxSpawnTries  = 50
	maxStartTries  = 200
)

// generatedCatalog lists objects the generator knows the dimensions of.
// Collection entries with other names get a generic small box.
var generatedCatalog = map[string]geom.AABB{
	"cracker_box": {Min: r3.Vec{X: -0.08, Y: -0.105, Z: -0.03}, Max: r3.Vec{X: 0.08, Y: 0.105, Z: 0.03}},
	"soup_can":    {Min: r3.Vec{X: -0.034, Y: -0.05, Z: -0.034}, Max: r3.Vec{X: 0.034, Y: 0.05, Z: 0.034}},
	"mug":         {Min: r3.Vec{X: -0.05, Y: -0.04, Z: -0.05}, Max: r3.Vec{X: 0.05, Y: 0.04, Z: 0.05}},
}

var genericObjectAABB = geom.AABB{Min: r3.Vec{X: -0.05, Y: -0.05, Z: -0.05}, Max: r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}}

// Generate builds a fixed-up episode set of square rooms, each with a
// floor, four walls and a few tables. Free objects rest on table tops or
// the floor without overlapping, and the robot starts where its base is
// clear of static geometry.
func Generate(col *collection.Collection, opts GeneratorOptions, rng *rand.Rand) (*Set, error) {
	if opts.NumEpisodes <= 0 || opts.NumStaticScenes <= 0 || opts.ObjectsPerEpisode <= 0 {
		return nil, fmt.Errorf("%w: generator needs episodes, scenes and objects (got %d/%d/%d)",
			ErrInvalidEpisode, opts.NumEpisodes, opts.NumStaticScenes, opts.ObjectsPerEpisode)
	}
	if len(col.FreeObjects) == 0 {
		return nil, fmt.Errorf("%w: collection has no free objects", ErrInvalidEpisode)
	}

	s := &Set{RenderAssets: []string{"floor", "wall", "table"}}
	const floorAsset, wallAsset, tableAsset = 0, 1, 2

	for _, cfg := range col.FreeObjects {
		box, ok := generatedCatalog[cfg.Name]
		if !ok {
			box = genericObjectAABB
		}
		s.RenderAssets = append(s.RenderAssets, cfg.Name)
		s.FreeObjects = append(s.FreeObjects, FreeObject{
			Name:        cfg.Name,
			RenderAsset: len(s.RenderAssets) - 1,
			AABB:        box,
			// Upright, then turned a quarter about Y.
			StartRotations: []quat.Number{geom.IdentityRotation, geom.YawRotation(math.Pi / 2)},
		})
	}

	tables := make([][]geom.AABB, opts.NumStaticScenes)
	for i := range opts.NumStaticScenes {
		scene, tops := generateRoom(i, opts.RoomSize, rng, floorAsset, wallAsset, tableAsset)
		scene.ColumnGrids = columngrid.Bake(scene.CollisionBoxes, s.ColumnGridHeader(&scene, col, opts.ColumnGridSpacing))
		s.StaticScenes = append(s.StaticScenes, scene)
		tables[i] = tops
	}

	maxRadius := col.MaxCollisionRadius()
	for e := range opts.NumEpisodes {
		sceneIdx := e % opts.NumStaticScenes
		scene := &s.StaticScenes[sceneIdx]
		half := opts.RoomSize / 2

		grid, err := broadphase.NewGrid(maxRadius, -half, -half, half, half, 1<<24, 0.25)
		if err != nil {
			return nil, err
		}

		ep := Episode{
			StaticSceneIndex:      sceneIdx,
			FirstFreeObjectSpawn:  len(s.FreeObjectSpawns),
			TargetObjGoalRotation: geom.IdentityRotation,
		}

		ep.AgentStartPos, ep.AgentStartYaw, err = pickAgentStart(scene.ColumnGrids, half, rng)
		if err != nil {
			return nil, fmt.Errorf("episode %d: %w", e, err)
		}

		for range opts.ObjectsPerEpisode {
			spawn, ok := pickSpawn(s, tables[sceneIdx], grid, ep.AgentStartPos, half, rng)
			if !ok {
				slog.Warn("episode generator: object did not fit", "episode", e, "placed", ep.NumFreeObjectSpawns)
				break
			}
			fo := &s.FreeObjects[spawn.FreeObjIndex]
			if _, err := grid.InsertObstacle(spawn.StartPos, fo.StartRotations[spawn.StartRotationIndex], &fo.AABB); err != nil {
				return nil, err
			}
			s.FreeObjectSpawns = append(s.FreeObjectSpawns, spawn)
			ep.NumFreeObjectSpawns++
		}
		if ep.NumFreeObjectSpawns == 0 {
			return nil, fmt.Errorf("%w: episode %d placed no objects", ErrInvalidEpisode, e)
		}

		ep.TargetObjIndex = rng.Intn(ep.NumFreeObjectSpawns)
		goalTables := tables[sceneIdx]
		goal := goalTables[rng.Intn(len(goalTables))]
		ep.TargetObjGoalPos = r3.Vec{
			X: geom.Lerp(goal.Min.X, goal.Max.X, rng.Float64()),
			Y: goal.Max.Y,
			Z: geom.Lerp(goal.Min.Z, goal.Max.Z, rng.Float64()),
		}
		s.Episodes = append(s.Episodes, ep)
	}

	if err := s.PostLoadFixup(col, FixupOptions{ColumnGridSpacing: opts.ColumnGridSpacing}); err != nil {
		return nil, err
	}
	return s, nil
}

// generateRoom returns a walled room and its table tops.
func generateRoom(idx int, size float64, rng *rand.Rand, floorAsset, wallAsset, tableAsset int) (StaticScene, []geom.AABB) {
	half := size / 2
	scene := StaticScene{Name: fmt.Sprintf("room_%03d", idx)}
	add := func(asset int, box geom.AABB) {
		scene.CollisionBoxes = append(scene.CollisionBoxes, box)
		scene.RenderAssetInstances = append(scene.RenderAssetInstances, RenderAssetInstance{
			RenderAsset: asset,
			Transform:   geom.Translation(box.Center()),
		})
	}

	add(floorAsset, geom.AABB{
		Min: r3.Vec{X: -half, Y: -floorThickness, Z: -half},
		Max: r3.Vec{X: half, Y: 0, Z: half},
	})
	inner := half - wallThickness
	add(wallAsset, geom.AABB{Min: r3.Vec{X: -half, Y: 0, Z: -half}, Max: r3.Vec{X: half, Y: wallHeight, Z: -inner}})
	add(wallAsset, geom.AABB{Min: r3.Vec{X: -half, Y: 0, Z: inner}, Max: r3.Vec{X: half, Y: wallHeight, Z: half}})
	add(wallAsset, geom.AABB{Min: r3.Vec{X: -half, Y: 0, Z: -inner}, Max: r3.Vec{X: -inner, Y: wallHeight, Z: inner}})
	add(wallAsset, geom.AABB{Min: r3.Vec{X: inner, Y: 0, Z: -inner}, Max: r3.Vec{X: half, Y: wallHeight, Z: inner}})

	var tops []geom.AABB
	for range tablesPerRoom {
		w := 0.6 + 0.6*rng.Float64()
		d := 0.4 + 0.3*rng.Float64()
		// Tables sit along the walls, leaving the middle open.
		var cx, cz float64
		along := geom.Lerp(-inner+w, inner-w, rng.Float64())
		switch rng.Intn(4) {
		case 0:
			cx, cz = along, -inner+d/2
		case 1:
			cx, cz = along, inner-d/2
		case 2:
			cx, cz = -inner+d/2, along
			w, d = d, w
		default:
			cx, cz = inner-d/2, along
			w, d = d, w
		}
		top := geom.AABB{
			Min: r3.Vec{X: cx - w/2, Y: tableHeight - tableTop, Z: cz - d/2},
			Max: r3.Vec{X: cx + w/2, Y: tableHeight, Z: cz + d/2},
		}
		add(tableAsset, top)
		tops = append(tops, top)
	}
	return scene, tops
}

// pickAgentStart finds a base position whose largest-radius column probe
// at base height is free.
func pickAgentStart(grids *columngrid.Set, half float64, rng *rand.Rand) (r2.Vec, float64, error) {
	ri := 0
	for i := 1; i < grids.NumSources(); i++ {
		if grids.SphereRadius(i) > grids.SphereRadius(ri) {
			ri = i
		}
	}
	r := grids.SphereRadius(ri)
	for range maxStartTries {
		p := r2.Vec{
			X: geom.Lerp(-half+robotClearance, half-robotClearance, rng.Float64()),
			Y: geom.Lerp(-half+robotClearance, half-robotClearance, rng.Float64()),
		}
		var cache columngrid.QueryCache
		free := true
		for _, off := range []r2.Vec{{}, {X: robotClearance / 2}, {X: -robotClearance / 2}, {Y: robotClearance / 2}, {Y: -robotClearance / 2}} {
			q := r2.Add(p, off)
			if grids.ContactTest(ri, geom.Ground(q, r+0.02), &cache) || grids.ContactTest(ri, geom.Ground(q, tableHeight), &cache) {
				free = false
				break
			}
		}
		if free {
			return p, geom.Lerp(-math.Pi, math.Pi, rng.Float64()), nil
		}
	}
	return r2.Vec{}, 0, fmt.Errorf("%w: no clear robot start position", ErrInvalidEpisode)
}

// pickSpawn chooses an object, rotation and resting position that does
// not overlap earlier spawns or the robot's start.
func pickSpawn(s *Set, tables []geom.AABB, grid *broadphase.Grid, agent r2.Vec, half float64, rng *rand.Rand) (FreeObjectSpawn, bool) {
	for range maxSpawnTries {
		def := rng.Intn(len(s.FreeObjects))
		fo := &s.FreeObjects[def]
		rotIdx := rng.Intn(len(fo.StartRotations))
		rotated := fo.AABB.Transformed(geom.Rotation(fo.StartRotations[rotIdx]))

		var surface geom.AABB
		if rng.Intn(3) > 0 {
			surface = tables[rng.Intn(len(tables))]
		} else {
			inner := half - wallThickness
			surface = geom.AABB{Min: r3.Vec{X: -inner, Z: -inner}, Max: r3.Vec{X: inner, Z: inner}}
		}
		ext := rotated.Size()
		if surface.Size().X < ext.X || surface.Size().Z < ext.Z {
			continue
		}
		pos := r3.Vec{
			X: geom.Lerp(surface.Min.X-rotated.Min.X, surface.Max.X-rotated.Max.X, rng.Float64()),
			Y: surface.Max.Y - rotated.Min.Y + 0.001,
			Z: geom.Lerp(surface.Min.Z-rotated.Min.Z, surface.Max.Z-rotated.Max.Z, rng.Float64()),
		}
		if r2.Norm(r2.Sub(r2.Vec{X: pos.X, Y: pos.Z}, agent)) < robotClearance+r3.Norm(ext)/2 {
			continue
		}
		if overlapsAny(grid, pos, rotated) {
			continue
		}
		return FreeObjectSpawn{FreeObjIndex: def, StartRotationIndex: rotIdx, StartPos: pos}, true
	}
	return FreeObjectSpawn{}, false
}

// overlapsAny probes the object's footprint corners and center against
// already placed objects.
func overlapsAny(grid *broadphase.Grid, pos r3.Vec, rotated geom.AABB) bool {
	r := grid.MaxQueryRadius()
	probes := []r3.Vec{rotated.Center()}
	for c := 0; c < 8; c++ {
		probes = append(probes, rotated.Corner(c))
	}
	for _, p := range probes {
		if grid.ContactTest(r3.Add(pos, p), r) != -1 {
			return true
		}
	}
	return false
}
