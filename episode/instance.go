package episode

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/broadphase"
	"github.com/pthm-cable/batchsim/components"
)

// GridOptions sizes each environment's broadphase grid.
type GridOptions struct {
	MaxQueryRadius float64
	MaxBytes       int
	MaxSpacing     float64
	Margin         float64 // added around the set's extent on every side
}

// Instance is one environment's live episode.
type Instance struct {
	EpisodeIdx int
	Grid       *broadphase.Grid

	// Objects is indexed by spawn index, which is also the grid slot.
	Objects []ecs.Entity

	StaticInstances []int
	// DebugInstances are persistent debug render instances, deleted on reset.
	DebugInstances []int
}

// Active reports whether an episode has been loaded into the instance.
func (in *Instance) Active() bool {
	return in.EpisodeIdx != -1
}

// InstanceSet holds every environment's live episode. Free objects are
// entities in a shared ECS world.
type InstanceSet struct {
	Set  *Set
	Envs []Instance

	world   *ecs.World
	mapper  *ecs.Map3[components.FreeObject, components.Pose, components.RenderInstance]
	poseMap *ecs.Map1[components.Pose]
	objMap  *ecs.Map1[components.FreeObject]
	rendMap *ecs.Map1[components.RenderInstance]
}

// NewInstanceSet allocates numEnvs empty instances, each with a
// broadphase grid covering every episode in the set.
func NewInstanceSet(set *Set, numEnvs int, opts GridOptions) (*InstanceSet, error) {
	world := ecs.NewWorld()
	s := &InstanceSet{
		Set:     set,
		Envs:    make([]Instance, numEnvs),
		world:   world,
		mapper:  ecs.NewMap3[components.FreeObject, components.Pose, components.RenderInstance](world),
		poseMap: ecs.NewMap1[components.Pose](world),
		objMap:  ecs.NewMap1[components.FreeObject](world),
		rendMap: ecs.NewMap1[components.RenderInstance](world),
	}

	ext := set.AllEpisodesAABB.Padded(opts.Margin)
	for b := range s.Envs {
		grid, err := broadphase.NewGrid(opts.MaxQueryRadius,
			ext.Min.X, ext.Min.Z, ext.Max.X, ext.Max.Z, opts.MaxBytes, opts.MaxSpacing)
		if err != nil {
			return nil, fmt.Errorf("env %d: %w", b, err)
		}
		s.Envs[b] = Instance{EpisodeIdx: -1, Grid: grid}
	}
	return s, nil
}

// Episode returns env b's episode. The instance must be active.
func (s *InstanceSet) Episode(b int) *Episode {
	return &s.Set.Episodes[s.Envs[b].EpisodeIdx]
}

// Scene returns env b's static scene. The instance must be active.
func (s *InstanceSet) Scene(b int) *StaticScene {
	return &s.Set.StaticScenes[s.Episode(b).StaticSceneIndex]
}

// Spawn inserts free object def into env b's grid as spawn index idx and
// creates its entity. The grid slot must equal idx.
func (s *InstanceSet) Spawn(b, idx, def int, pos r3.Vec, rot quat.Number, renderID int) error {
	env := &s.Envs[b]
	fo := &s.Set.FreeObjects[def]
	slot, err := env.Grid.InsertObstacle(pos, rot, &fo.AABB)
	if err != nil {
		return fmt.Errorf("spawning %q: %w", fo.Name, err)
	}
	if slot != idx || len(env.Objects) != idx {
		panic(fmt.Sprintf("episode: spawn %d got grid slot %d with %d objects", idx, slot, len(env.Objects)))
	}

	e := s.mapper.NewEntity(
		&components.FreeObject{Env: int32(b), Index: int32(idx), Def: int32(def)},
		&components.Pose{Position: pos, Rotation: rot},
		&components.RenderInstance{ID: int32(renderID)},
	)
	env.Objects = append(env.Objects, e)
	return nil
}

// Def returns the catalog definition of env b's object i.
func (s *InstanceSet) Def(b, i int) *FreeObject {
	obj := s.objMap.Get(s.Envs[b].Objects[i])
	return &s.Set.FreeObjects[obj.Def]
}

// Pose returns env b's object i pose for in-place update.
func (s *InstanceSet) Pose(b, i int) *components.Pose {
	return s.poseMap.Get(s.Envs[b].Objects[i])
}

// RenderID returns the render instance of env b's object i.
func (s *InstanceSet) RenderID(b, i int) int {
	return int(s.rendMap.Get(s.Envs[b].Objects[i]).ID)
}

// Clear removes env b's objects from the world and its grid. Render
// instances are the caller's to delete first.
func (s *InstanceSet) Clear(b int) {
	env := &s.Envs[b]
	for i := len(env.Objects) - 1; i >= 0; i-- {
		s.world.RemoveEntity(env.Objects[i])
	}
	env.Objects = env.Objects[:0]
	env.StaticInstances = env.StaticInstances[:0]
	env.Grid.RemoveAllObstacles()
	env.EpisodeIdx = -1
}

// NumLiveObjects counts free-object entities across every environment.
func (s *InstanceSet) NumLiveObjects() int {
	filter := ecs.NewFilter1[components.FreeObject](s.world)
	query := filter.Query()
	n := 0
	for query.Next() {
		n++
	}
	return n
}
