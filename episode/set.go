// Package episode holds the immutable episode set (static scenes, free
// object catalog, per-episode spawn lists) and the per-environment live
// episode instances built from it.
package episode

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/columngrid"
	"github.com/pthm-cable/batchsim/geom"
)

// ErrInvalidEpisode is returned for episode data that references missing
// scenes, objects, spawns or rotations.
var ErrInvalidEpisode = errors.New("episode: invalid episode set")

// CollisionSphere is a sphere in a free object's local frame.
type CollisionSphere struct {
	Origin    r3.Vec
	RadiusIdx int
}

// RenderAssetInstance places a render asset in a static scene.
type RenderAssetInstance struct {
	RenderAsset int
	Transform   geom.Transform
}

// StaticScene is the immovable part of an episode.
type StaticScene struct {
	Name                 string
	RenderAssetInstances []RenderAssetInstance
	CollisionBoxes       []geom.AABB
	ColumnGridFile       string
	ColumnGrids          *columngrid.Set
}

// FreeObject is a movable rigid object definition.
type FreeObject struct {
	Name              string
	RenderAsset       int
	AABB              geom.AABB
	StartRotations    []quat.Number
	HeldRotationIndex int
	CollisionSpheres  []CollisionSphere
}

// FreeObjectSpawn places one free object at episode start.
type FreeObjectSpawn struct {
	FreeObjIndex       int
	StartRotationIndex int
	StartPos           r3.Vec
}

// Episode is one task instance.
type Episode struct {
	StaticSceneIndex         int
	FirstFreeObjectSpawn     int
	NumFreeObjectSpawns      int
	TargetObjIndex           int
	AgentStartPos            r2.Vec
	AgentStartYaw            float64
	RobotStartJointPositions []float64
	TargetObjGoalPos         r3.Vec
	TargetObjGoalRotation    quat.Number
}

// Set is the immutable episode data shared by every environment.
type Set struct {
	RenderAssets     []string
	StaticScenes     []StaticScene
	FreeObjects      []FreeObject
	FreeObjectSpawns []FreeObjectSpawn
	Episodes         []Episode

	MaxFreeObjects  int
	AllEpisodesAABB geom.AABB
}

// WithPrivateCatalog returns a copy of s whose free object catalog can
// be changed without affecting s. Scenes, spawns and episodes stay
// shared.
func (s *Set) WithPrivateCatalog() *Set {
	c := *s
	c.FreeObjects = make([]FreeObject, len(s.FreeObjects))
	for i, fo := range s.FreeObjects {
		fo.StartRotations = slices.Clone(fo.StartRotations)
		fo.CollisionSpheres = slices.Clone(fo.CollisionSpheres)
		c.FreeObjects[i] = fo
	}
	return &c
}

// Spawns returns episode e's spawn list.
func (s *Set) Spawns(e *Episode) []FreeObjectSpawn {
	return s.FreeObjectSpawns[e.FirstFreeObjectSpawn : e.FirstFreeObjectSpawn+e.NumFreeObjectSpawns]
}

// SpawnTransform returns the world transform of a spawn.
func (s *Set) SpawnTransform(spawn FreeObjectSpawn) geom.Transform {
	fo := &s.FreeObjects[spawn.FreeObjIndex]
	return geom.Transform{Rotation: fo.StartRotations[spawn.StartRotationIndex], Translation: spawn.StartPos}
}

// allEpisodesHalfHeight stands in for an unbounded vertical extent.
const allEpisodesHalfHeight = 1e7

// FixupOptions controls post-load processing.
type FixupOptions struct {
	ColumnGridSpacing float64
	ColumnGridLoader  func(scene *StaticScene, h columngrid.Header) (*columngrid.Set, error)
}

// PostLoadFixup validates references, assigns collision spheres from the
// collection, bakes or loads column grids and computes derived extents.
// AllEpisodesAABB spans the column grids of every static scene.
func (s *Set) PostLoadFixup(col *collection.Collection, opts FixupOptions) error {
	if opts.ColumnGridSpacing <= 0 {
		return fmt.Errorf("%w: column grid spacing %g", ErrInvalidEpisode, opts.ColumnGridSpacing)
	}
	if err := s.validate(); err != nil {
		return err
	}
	if err := s.UpdateFromCollection(col); err != nil {
		return err
	}

	s.MaxFreeObjects = 0
	for i := range s.Episodes {
		s.MaxFreeObjects = max(s.MaxFreeObjects, s.Episodes[i].NumFreeObjectSpawns)
	}

	bounds := geom.EmptyAABB()
	for i := range s.StaticScenes {
		scene := &s.StaticScenes[i]
		if scene.ColumnGrids == nil {
			h := s.ColumnGridHeader(scene, col, opts.ColumnGridSpacing)
			if scene.ColumnGridFile != "" && opts.ColumnGridLoader != nil {
				set, err := opts.ColumnGridLoader(scene, h)
				if err != nil {
					return fmt.Errorf("static scene %q: %w", scene.Name, err)
				}
				scene.ColumnGrids = set
			} else {
				scene.ColumnGrids = columngrid.Bake(scene.CollisionBoxes, h)
			}
		}
		if n := scene.ColumnGrids.NumSources(); n != len(col.CollisionRadiusWorkingSet) {
			return fmt.Errorf("%w: static scene %q has %d column grids for %d working-set radii",
				ErrInvalidEpisode, scene.Name, n, len(col.CollisionRadiusWorkingSet))
		}
		for ri, r := range col.CollisionRadiusWorkingSet {
			if scene.ColumnGrids.SphereRadius(ri) != r {
				return fmt.Errorf("%w: static scene %q column grid %d radius %g, want %g",
					ErrInvalidEpisode, scene.Name, ri, scene.ColumnGrids.SphereRadius(ri), r)
			}
		}

		src := scene.ColumnGrids.Source(0)
		bounds = bounds.Union(geom.AABB{
			Min: r3.Vec{X: src.MinX, Y: -allEpisodesHalfHeight, Z: src.MinZ},
			Max: r3.Vec{
				X: src.MinX + float64(src.DimX)*src.GridSpacing,
				Y: allEpisodesHalfHeight,
				Z: src.MinZ + float64(src.DimZ)*src.GridSpacing,
			},
		})
	}
	s.AllEpisodesAABB = bounds
	return nil
}

// ColumnGridHeader returns the grid layout for a scene: its collision
// geometry's footprint on a spacing-sized lattice.
func (s *Set) ColumnGridHeader(scene *StaticScene, col *collection.Collection, spacing float64) columngrid.Header {
	ext := geom.EmptyAABB()
	for _, b := range scene.CollisionBoxes {
		ext = ext.Union(b)
	}
	if ext.IsEmpty() {
		ext = geom.AABB{}
	}
	return columngrid.Header{
		Radii: append([]float64(nil), col.CollisionRadiusWorkingSet...),
		Bounds: columngrid.Bounds{
			MinX: math.Floor(ext.Min.X/spacing) * spacing,
			MinZ: math.Floor(ext.Min.Z/spacing) * spacing,
			MaxX: math.Ceil(ext.Max.X/spacing) * spacing,
			MaxZ: math.Ceil(ext.Max.Z/spacing) * spacing,
		},
		Spacing: spacing,
	}
}

// UpdateFromCollection assigns held rotations and collision spheres to
// every catalog object named in the collection. Objects the collection
// does not mention keep their spheres.
func (s *Set) UpdateFromCollection(col *collection.Collection) error {
	for i := range s.FreeObjects {
		fo := &s.FreeObjects[i]
		cfg, ok := col.FreeObjectByName(fo.Name)
		if !ok {
			if len(fo.CollisionSpheres) == 0 {
				return fmt.Errorf("%w: free object %q has no collision spheres", ErrInvalidEpisode, fo.Name)
			}
			continue
		}
		if cfg.HeldRotationIndex < 0 || cfg.HeldRotationIndex >= len(fo.StartRotations) {
			return fmt.Errorf("%w: free object %q held rotation %d out of range (%d start rotations)",
				ErrInvalidEpisode, fo.Name, cfg.HeldRotationIndex, len(fo.StartRotations))
		}
		fo.HeldRotationIndex = cfg.HeldRotationIndex

		spheres := cfg.CollisionSpheres
		if cfg.GenerateSpheres != "" {
			gen, err := GenerateCollisionSpheres(fo.AABB, cfg.GenerateSpheres, col.CollisionRadiusWorkingSet)
			if err != nil {
				return fmt.Errorf("free object %q: %w", fo.Name, err)
			}
			spheres = gen
		}
		fo.CollisionSpheres = make([]CollisionSphere, 0, len(spheres))
		for _, sp := range spheres {
			idx, err := col.RadiusIndex(sp.Radius)
			if err != nil {
				return fmt.Errorf("free object %q: %w", fo.Name, err)
			}
			fo.CollisionSpheres = append(fo.CollisionSpheres, CollisionSphere{Origin: sp.OriginVec(), RadiusIdx: idx})
		}
	}
	return nil
}

func (s *Set) validate() error {
	if len(s.Episodes) == 0 {
		return fmt.Errorf("%w: no episodes", ErrInvalidEpisode)
	}
	for i, fo := range s.FreeObjects {
		if fo.RenderAsset < 0 || fo.RenderAsset >= len(s.RenderAssets) {
			return fmt.Errorf("%w: free object %d render asset %d out of range", ErrInvalidEpisode, i, fo.RenderAsset)
		}
		if len(fo.StartRotations) == 0 {
			return fmt.Errorf("%w: free object %q has no start rotations", ErrInvalidEpisode, fo.Name)
		}
		for _, q := range fo.StartRotations {
			if !isUnit(q) {
				return fmt.Errorf("%w: free object %q rotation %v isn't normalized", ErrInvalidEpisode, fo.Name, q)
			}
		}
		if fo.AABB.IsEmpty() {
			return fmt.Errorf("%w: free object %q has an empty bounding box", ErrInvalidEpisode, fo.Name)
		}
	}
	for i, sc := range s.StaticScenes {
		for _, inst := range sc.RenderAssetInstances {
			if inst.RenderAsset < 0 || inst.RenderAsset >= len(s.RenderAssets) {
				return fmt.Errorf("%w: static scene %d render asset %d out of range", ErrInvalidEpisode, i, inst.RenderAsset)
			}
		}
	}
	for i, sp := range s.FreeObjectSpawns {
		if sp.FreeObjIndex < 0 || sp.FreeObjIndex >= len(s.FreeObjects) {
			return fmt.Errorf("%w: spawn %d free object %d out of range", ErrInvalidEpisode, i, sp.FreeObjIndex)
		}
		if n := len(s.FreeObjects[sp.FreeObjIndex].StartRotations); sp.StartRotationIndex < 0 || sp.StartRotationIndex >= n {
			return fmt.Errorf("%w: spawn %d start rotation %d out of range", ErrInvalidEpisode, i, sp.StartRotationIndex)
		}
	}
	for i, ep := range s.Episodes {
		if ep.StaticSceneIndex < 0 || ep.StaticSceneIndex >= len(s.StaticScenes) {
			return fmt.Errorf("%w: episode %d static scene %d out of range", ErrInvalidEpisode, i, ep.StaticSceneIndex)
		}
		if ep.FirstFreeObjectSpawn < 0 || ep.NumFreeObjectSpawns < 0 ||
			ep.FirstFreeObjectSpawn+ep.NumFreeObjectSpawns > len(s.FreeObjectSpawns) {
			return fmt.Errorf("%w: episode %d spawn range out of bounds", ErrInvalidEpisode, i)
		}
		if ep.NumFreeObjectSpawns <= 0 {
			return fmt.Errorf("%w: episode %d has no free object spawns", ErrInvalidEpisode, i)
		}
		if ep.TargetObjIndex < 0 || ep.TargetObjIndex >= ep.NumFreeObjectSpawns {
			return fmt.Errorf("%w: episode %d target object %d out of range", ErrInvalidEpisode, i, ep.TargetObjIndex)
		}
		if !isUnit(ep.TargetObjGoalRotation) {
			return fmt.Errorf("%w: episode %d goal rotation isn't normalized", ErrInvalidEpisode, i)
		}
	}
	return nil
}

func isUnit(q quat.Number) bool {
	return math.Abs(quat.Abs(q)-1) < 1e-4
}
