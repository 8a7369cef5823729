// Package sim steps a batch of robot environments in lockstep.
//
// A step applies each environment's actions over one or more substeps.
// Every substep advances the rollout record, recomputes link transforms,
// tests collisions, resolves grasps and drops, and rolls back collided
// environments. After the substeps, requested resets run, render
// instances are synced and the environment states are refreshed.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/episode"
	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/placement"
	"github.com/pthm-cable/batchsim/renderer"
	"github.com/pthm-cable/batchsim/robot"
	"github.com/pthm-cable/batchsim/rollout"
)

var (
	// ErrFirstStepCollision is returned when a freshly reset environment
	// collides on its first step, which means the episode is authored wrong.
	ErrFirstStepCollision = errors.New("sim: collision on first step of episode")
	// ErrInvalidRequest is returned for malformed actions, resets or
	// camera settings. The simulator stays usable.
	ErrInvalidRequest = errors.New("sim: invalid request")
)

// GridOptions sizes the per-environment broadphase grids.
type GridOptions struct {
	MaxBytes       int
	MaxGridSpacing float64
	DomainMargin   float64
}

// Options configures a Simulator.
type Options struct {
	NumEnvs                   int
	NumSubsteps               int
	DoAsyncPhysicsStep        bool
	ForceRandomActions        bool
	EnableRobotCollision      bool
	EnableHeldObjectCollision bool
	Seed                      int64

	// SensorAspect is the render camera's width over height.
	SensorAspect float64

	Grid      GridOptions
	Placement placement.Options
}

// DefaultOptions returns a single synchronous environment with all
// collision enabled.
func DefaultOptions() Options {
	return Options{
		NumEnvs:                   1,
		NumSubsteps:               1,
		EnableRobotCollision:      true,
		EnableHeldObjectCollision: true,
		SensorAspect:              1,
		Grid: GridOptions{
			MaxBytes:       1000 * 1024,
			MaxGridSpacing: 0.5,
		},
		Placement: placement.DefaultOptions(),
	}
}

// sensorCamera is the camera set by SetCamera, optionally attached to a
// robot node.
type sensorCamera struct {
	attachNode int // -1 when free
	local      renderer.Camera
}

// Simulator owns every environment of the batch.
type Simulator struct {
	opts Options

	col      *collection.Collection
	robot    *robot.Robot
	robots   *robot.InstanceSet
	source   *episode.Set // caller's set, never written
	set      *episode.Set // private free object catalog
	episodes *episode.InstanceSet
	storage  *rollout.Storage
	backend  renderer.Backend
	rng      *rand.Rand

	numActions int
	actions    []float64
	resets     []int

	states []EnvironmentState
	recent StatRecord
	totals StatRecord

	camera         sensorCamera
	debugInstances [][]int

	worker      *stepWorker
	inFlight    bool
	syncErr     error
	err         error
	okToRender  bool
	renderStart bool

	warn *rate.Limiter
}

// New builds a simulator over a fixed-up episode set. The robot is the
// collection's first robot. The backend must have one scene per
// environment.
func New(opts Options, col *collection.Collection, set *episode.Set, backend renderer.Backend) (*Simulator, error) {
	if opts.NumEnvs <= 0 {
		return nil, fmt.Errorf("sim: num envs must be positive, got %d", opts.NumEnvs)
	}
	if opts.NumSubsteps <= 0 {
		return nil, fmt.Errorf("sim: num substeps must be positive, got %d", opts.NumSubsteps)
	}
	if backend.NumEnvs() != opts.NumEnvs {
		return nil, fmt.Errorf("sim: backend has %d scenes for %d envs", backend.NumEnvs(), opts.NumEnvs)
	}
	if opts.Placement.MaxFailedPlacements <= 0 {
		return nil, fmt.Errorf("sim: max failed placements must be positive, got %d", opts.Placement.MaxFailedPlacements)
	}
	if pi := opts.Placement.ProbeRadiusIndex; pi < 0 || pi >= len(col.CollisionRadiusWorkingSet) {
		return nil, fmt.Errorf("sim: placement probe radius index %d outside working set of %d", pi, len(col.CollisionRadiusWorkingSet))
	}
	if len(col.Robots) == 0 {
		return nil, fmt.Errorf("sim: collection has no robot")
	}
	if len(set.Episodes) == 0 {
		return nil, fmt.Errorf("%w: no episodes", episode.ErrInvalidEpisode)
	}
	for i := range set.StaticScenes {
		if set.StaticScenes[i].ColumnGrids == nil {
			return nil, fmt.Errorf("%w: scene %q has no column grids (missing PostLoadFixup?)",
				episode.ErrInvalidEpisode, set.StaticScenes[i].Name)
		}
	}

	source := set
	set = set.WithPrivateCatalog()

	r, err := robot.New(&col.Robots[0], col)
	if err != nil {
		return nil, err
	}
	for i := range set.Episodes {
		if n := len(set.Episodes[i].RobotStartJointPositions); n != 0 && n != len(r.ActionMap.Joints) {
			return nil, fmt.Errorf("%w: episode %d has %d start joint positions, action map drives %d joints",
				episode.ErrInvalidEpisode, i, n, len(r.ActionMap.Joints))
		}
	}

	queryRadius := math.Max(col.MaxCollisionRadius(), r.GripperQueryRadius)
	episodes, err := episode.NewInstanceSet(set, opts.NumEnvs, episode.GridOptions{
		MaxQueryRadius: queryRadius,
		MaxBytes:       opts.Grid.MaxBytes,
		MaxSpacing:     opts.Grid.MaxGridSpacing,
		Margin:         opts.Grid.DomainMargin,
	})
	if err != nil {
		return nil, fmt.Errorf("creating broadphase grids: %w", err)
	}

	s := &Simulator{
		opts:           opts,
		col:            col,
		robot:          r,
		source:         source,
		set:            set,
		episodes:       episodes,
		storage:        rollout.NewStorage(opts.NumEnvs, r.NumPosVars, r.NumNodes),
		backend:        backend,
		rng:            rand.New(rand.NewSource(opts.Seed)),
		numActions:     r.ActionMap.NumActions,
		actions:        make([]float64, opts.NumEnvs*r.ActionMap.NumActions),
		resets:         make([]int, opts.NumEnvs),
		states:         make([]EnvironmentState, opts.NumEnvs),
		camera:         sensorCamera{attachNode: -1},
		debugInstances: make([][]int, opts.NumEnvs),
		warn:           rate.NewLimiter(rate.Every(time.Second), 5),
	}
	s.applyCollisionSwitches()
	s.robots = robot.NewInstanceSet(r, opts.NumEnvs)

	for b := range s.resets {
		s.resets[b] = -1
		s.states[b] = newEnvironmentState()
		for node, asset := range r.NodeAssets {
			if asset == "" {
				continue
			}
			s.robots.NodeVisuals[b][node] = robot.Visual(backend.AddInstance(b, asset, geom.Identity))
		}
	}

	if opts.DoAsyncPhysicsStep {
		s.worker = newStepWorker(s.stepPhysics)
	}

	slog.Info("simulator ready",
		"envs", opts.NumEnvs,
		"episodes", len(set.Episodes),
		"substeps", opts.NumSubsteps,
		"async", opts.DoAsyncPhysicsStep,
		"robot_spheres", r.NumSpheres(),
		"actions", s.numActions,
	)
	return s, nil
}

// applyCollisionSwitches strips robot or held-object spheres when their
// collision is disabled.
func (s *Simulator) applyCollisionSwitches() {
	if !s.opts.EnableRobotCollision {
		s.robot.Spheres = nil
		s.robot.SpheresByNode = make([][]int, s.robot.NumNodes)
	}
	if !s.opts.EnableHeldObjectCollision {
		for i := range s.set.FreeObjects {
			s.set.FreeObjects[i].CollisionSpheres = nil
		}
	}
}

// Close stops the physics worker after any in-flight step and returns
// that step's error. The backend belongs to the caller.
func (s *Simulator) Close() error {
	var err error
	if s.inFlight {
		err = s.WaitStepPhysicsOrReset()
	}
	if s.worker != nil {
		s.worker.stop()
		s.worker = nil
	}
	return err
}

// NumEnvs returns the batch size.
func (s *Simulator) NumEnvs() int { return s.opts.NumEnvs }

// NumActions returns the per-environment action width.
func (s *Simulator) NumActions() int { return s.numActions }

// NumEpisodes returns the number of episodes resets may choose from.
func (s *Simulator) NumEpisodes() int { return len(s.set.Episodes) }

// Robot returns the shared robot description.
func (s *Simulator) Robot() *robot.Robot { return s.robot }

// EpisodeSet returns the simulator's view of the episode set, with its
// own free object catalog.
func (s *Simulator) EpisodeSet() *episode.Set { return s.set }

// Err returns the error that halted the simulator, if any.
func (s *Simulator) Err() error { return s.err }

func (s *Simulator) isResetting(b int) bool { return s.resets[b] != -1 }

// stepping reports whether env b takes part in the substep pipeline.
func (s *Simulator) stepping(b int) bool {
	return s.episodes.Envs[b].Active() && !s.isResetting(b)
}

func (s *Simulator) assertIdle(op string) {
	if s.inFlight {
		panic("sim: " + op + " during physics step")
	}
}
