package sim

import (
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/episode"
	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/renderer"
)

const tol = 1e-6

// probePoint is where the default robot's grasp probe sits with the base
// at the origin, yaw 0 and the start joint positions.
var probePoint = r3.Vec{X: 0.95, Y: 0.9, Z: 0}

var floorBox = geom.AABB{Min: r3.Vec{X: -3, Y: -0.1, Z: -3}, Max: r3.Vec{X: 3, Y: 0, Z: 3}}

func defaultCollection(t *testing.T) *collection.Collection {
	t.Helper()
	col, err := collection.Default()
	if err != nil {
		t.Fatal(err)
	}
	return col
}

// cubeSet builds one scene from boxes and one episode with a 10cm cube at
// cube and the robot at agent.
func cubeSet(boxes []geom.AABB, agent r2.Vec, cube r3.Vec) *episode.Set {
	half := r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}
	return &episode.Set{
		RenderAssets: []string{"floor", "cube"},
		StaticScenes: []episode.StaticScene{{
			Name:                 "room",
			RenderAssetInstances: []episode.RenderAssetInstance{{RenderAsset: 0, Transform: geom.Identity}},
			CollisionBoxes:       boxes,
		}},
		FreeObjects: []episode.FreeObject{{
			Name:             "cube",
			RenderAsset:      1,
			AABB:             geom.AABB{Min: r3.Scale(-1, half), Max: half},
			StartRotations:   []quat.Number{geom.IdentityRotation},
			CollisionSpheres: []episode.CollisionSphere{{RadiusIdx: 0}},
		}},
		FreeObjectSpawns: []episode.FreeObjectSpawn{{StartPos: cube}},
		Episodes: []episode.Episode{{
			NumFreeObjectSpawns:   1,
			AgentStartPos:         agent,
			TargetObjGoalRotation: geom.IdentityRotation,
		}},
	}
}

func newTestSim(t *testing.T, set *episode.Set, configure func(*Options)) (*Simulator, *renderer.Recorder) {
	t.Helper()
	col := defaultCollection(t)
	if err := set.PostLoadFixup(col, episode.FixupOptions{ColumnGridSpacing: 0.05}); err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.Seed = 7
	if configure != nil {
		configure(&opts)
	}
	rec := renderer.NewRecorder(opts.NumEnvs)
	s, err := New(opts, col, set, rec)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, rec
}

func resetAll(t *testing.T, s *Simulator, ep int) {
	t.Helper()
	resets := make([]int, s.NumEnvs())
	for i := range resets {
		resets[i] = ep
	}
	if err := s.Reset(resets); err != nil {
		t.Fatal(err)
	}
}

func step(t *testing.T, s *Simulator, actions []float64) {
	t.Helper()
	if actions == nil {
		actions = make([]float64, s.NumEnvs()*s.NumActions())
	}
	if err := s.StepPhysics(actions); err != nil {
		t.Fatal(err)
	}
}

// action returns a single env action vector with one entry set.
func action(s *Simulator, idx int, v float64) []float64 {
	a := make([]float64, s.NumActions())
	a[idx] = v
	return a
}

func near(a, b r3.Vec) bool {
	return r3.Norm(r3.Sub(a, b)) < tol
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Options)
		backend   int
	}{
		{"no envs", func(o *Options) { o.NumEnvs = 0 }, 1},
		{"no substeps", func(o *Options) { o.NumSubsteps = 0 }, 1},
		{"backend env mismatch", nil, 2},
		{"bad probe radius", func(o *Options) { o.Placement.ProbeRadiusIndex = 9 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := defaultCollection(t)
			set := cubeSet([]geom.AABB{floorBox}, r2.Vec{}, probePoint)
			if err := set.PostLoadFixup(col, episode.FixupOptions{ColumnGridSpacing: 0.05}); err != nil {
				t.Fatal(err)
			}
			opts := DefaultOptions()
			if tt.configure != nil {
				tt.configure(&opts)
			}
			if _, err := New(opts, col, set, renderer.NewRecorder(tt.backend)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResetSpawnsEpisode(t *testing.T) {
	s, rec := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{X: -1}, r3.Vec{X: 1, Y: 0.05}), nil)
	resetAll(t, s, 0)

	st := s.EnvironmentStates()[0]
	if st.EpisodeIdx != 0 || st.EpisodeStepIdx != 0 {
		t.Fatalf("episode %d step %d, want 0 0", st.EpisodeIdx, st.EpisodeStepIdx)
	}
	if !near(st.RobotPos, r3.Vec{X: -1}) {
		t.Errorf("robot pos = %v", st.RobotPos)
	}
	if !near(st.TargetObjStartPos, r3.Vec{X: 1, Y: 0.05}) {
		t.Errorf("target start = %v", st.TargetObjStartPos)
	}
	if len(st.ObjPositions) != 1 || !near(st.ObjPositions[0], r3.Vec{X: 1, Y: 0.05}) {
		t.Errorf("object positions = %v", st.ObjPositions)
	}
	if st.HeldObjIdx != -1 || !math.IsNaN(st.DropHeight) {
		t.Errorf("held %d drop height %v after reset", st.HeldObjIdx, st.DropHeight)
	}
	if len(st.RobotJointPositions) != len(s.Robot().StartJointPositions) {
		t.Fatalf("joint count = %d", len(st.RobotJointPositions))
	}
	for j, p := range st.RobotJointPositions {
		if p != s.Robot().StartJointPositions[j] {
			t.Errorf("joint %d = %g, want %g", j, p, s.Robot().StartJointPositions[j])
		}
	}

	visuals := 0
	for _, a := range s.Robot().NodeAssets {
		if a != "" {
			visuals++
		}
	}
	if got, want := rec.NumInstances(0), visuals+2; got != want {
		t.Errorf("render instances = %d, want %d", got, want)
	}
}

func TestZeroActionsHoldPose(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{X: 0.5, Y: -0.5}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	start := s.EnvironmentStates()[0].EEPos

	for i := 1; i <= 3; i++ {
		step(t, s, nil)
		st := s.EnvironmentStates()[0]
		if st.EpisodeStepIdx != i {
			t.Fatalf("step idx = %d, want %d", st.EpisodeStepIdx, i)
		}
		if st.DidCollide {
			t.Fatalf("step %d collided", i)
		}
		if !near(st.RobotPos, r3.Vec{X: 0.5, Z: -0.5}) || !near(st.EEPos, start) {
			t.Fatalf("step %d moved: robot %v ee %v", i, st.RobotPos, st.EEPos)
		}
	}

	stats := s.TakeRecentStats()
	if stats.NumSteps != 3 || stats.NumEpisodes != 1 || stats.NumStepsInCollision != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if s.TakeRecentStats() != (StatRecord{}) {
		t.Error("recent stats not cleared")
	}
	if got := s.TotalStats(); got.NumSteps != 3 {
		t.Errorf("total steps = %d, want 3", got.NumSteps)
	}
}

func TestStepPhysicsWithoutActions(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{X: 0.5}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)

	for i := 1; i <= 2; i++ {
		if err := s.StepPhysics(nil); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		st := s.EnvironmentStates()[0]
		if st.EpisodeStepIdx != i || !near(st.RobotPos, r3.Vec{X: 0.5}) {
			t.Fatalf("step %d: idx %d robot %v", i, st.EpisodeStepIdx, st.RobotPos)
		}
	}
}

func TestMoveAndRotate(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	step(t, s, nil)

	move := s.Robot().ActionMap.BaseMove
	step(t, s, action(s, move.ActionIdx, 1))
	st := s.EnvironmentStates()[0]
	if !near(st.RobotPos, r3.Vec{X: move.StepMax}) {
		t.Errorf("after full forward, robot pos = %v, want x %g", st.RobotPos, move.StepMax)
	}

	rot := s.Robot().ActionMap.BaseRotate
	step(t, s, action(s, rot.ActionIdx, 1))
	st = s.EnvironmentStates()[0]
	want := geom.YawRotation(rot.StepMax)
	if quat.Abs(quat.Sub(st.RobotRotation, want)) > tol {
		t.Errorf("rotation = %v, want %v", st.RobotRotation, want)
	}
}

func TestFirstStepActionsIgnored(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)

	step(t, s, action(s, s.Robot().ActionMap.BaseMove.ActionIdx, 1))
	if st := s.EnvironmentStates()[0]; !near(st.RobotPos, r3.Vec{}) {
		t.Errorf("first step moved the robot to %v", st.RobotPos)
	}
}

func TestGraspAndDrop(t *testing.T) {
	s, rec := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: 0.97, Y: 0.9}), nil)
	resetAll(t, s, 0)
	step(t, s, nil)

	grasp := s.Robot().ActionMap.GraspRelease.ActionIdx
	step(t, s, action(s, grasp, 1))
	st := s.EnvironmentStates()[0]
	if !st.DidGrasp || st.HeldObjIdx != 0 {
		t.Fatalf("grasp: did %v held %d", st.DidGrasp, st.HeldObjIdx)
	}
	if !near(st.ObjPositions[0], probePoint) {
		t.Errorf("held object at %v, want %v", st.ObjPositions[0], probePoint)
	}
	if id := s.episodes.RenderID(0, 0); !near(mustInstance(t, rec, id).Transform.Translation, probePoint) {
		t.Error("held object render instance not at the gripper")
	}
	if !s.episodes.Envs[0].Grid.IsObstacleDisabled(0) {
		t.Error("held object still active in the broadphase")
	}

	// Holding with a neutral grasp action is not an event.
	step(t, s, nil)
	if st := s.EnvironmentStates()[0]; st.DidGrasp || st.HeldObjIdx != 0 {
		t.Fatalf("idle step: did grasp %v held %d", st.DidGrasp, st.HeldObjIdx)
	}

	step(t, s, action(s, grasp, -1))
	st = s.EnvironmentStates()[0]
	if !st.DidDrop || st.HeldObjIdx != -1 {
		t.Fatalf("drop: did %v held %d", st.DidDrop, st.HeldObjIdx)
	}
	if got := st.ObjPositions[0]; math.Abs(got.Y-0.05) > tol || math.Abs(got.X-probePoint.X) > tol {
		t.Errorf("dropped object at %v, want resting on the floor below the gripper", got)
	}
	if math.Abs(st.DropHeight-0.85) > tol {
		t.Errorf("drop height = %g, want 0.85", st.DropHeight)
	}
	if s.episodes.Envs[0].Grid.IsObstacleDisabled(0) {
		t.Error("dropped object not back in the broadphase")
	}

	stats := s.TakeRecentStats()
	if stats.NumGripAttempts != 1 || stats.NumGrips != 1 || stats.NumDrops != 1 || stats.NumFailedDrops != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGraspMiss(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	step(t, s, nil)

	step(t, s, action(s, s.Robot().ActionMap.GraspRelease.ActionIdx, 1))
	if st := s.EnvironmentStates()[0]; st.DidGrasp || st.HeldObjIdx != -1 {
		t.Fatalf("grasped nothing: did %v held %d", st.DidGrasp, st.HeldObjIdx)
	}
	if got := s.TakeRecentStats(); got.NumGripAttempts != 1 || got.NumGrips != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestCollisionRollsBack(t *testing.T) {
	wall := geom.AABB{Min: r3.Vec{X: 1.5, Y: 0, Z: -1}, Max: r3.Vec{X: 1.7, Y: 1, Z: 1}}
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox, wall}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	step(t, s, nil)

	forward := action(s, s.Robot().ActionMap.BaseMove.ActionIdx, 1)
	prev := s.EnvironmentStates()[0].RobotPos
	collided := 0
	for i := 0; i < 20; i++ {
		step(t, s, forward)
		st := s.EnvironmentStates()[0]
		if st.DidCollide {
			collided++
			if st.RobotPos != prev {
				t.Fatalf("step %d collided but robot moved from %v to %v", i, prev, st.RobotPos)
			}
		} else if math.Abs(st.RobotPos.X-prev.X-0.1) > tol {
			t.Fatalf("step %d free but robot moved from %v to %v", i, prev, st.RobotPos)
		}
		prev = st.RobotPos
	}
	if collided == 0 {
		t.Fatal("robot never reached the wall")
	}
	if prev.X > wall.Min.X {
		t.Errorf("robot passed into the wall: %v", prev)
	}
	if got := s.TakeRecentStats(); got.NumStepsInCollision != collided {
		t.Errorf("steps in collision = %d, want %d", got.NumStepsInCollision, collided)
	}
}

func TestCollisionRollsBackYawAndJoints(t *testing.T) {
	wall := geom.AABB{Min: r3.Vec{X: 1.5, Y: 0, Z: -1}, Max: r3.Vec{X: 1.7, Y: 1, Z: 1}}
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox, wall}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	step(t, s, nil)

	am := s.Robot().ActionMap
	drive := make([]float64, s.NumActions())
	drive[am.BaseMove.ActionIdx] = 1
	drive[am.BaseRotate.ActionIdx] = 0.1
	drive[am.Joints[len(am.Joints)-1].ActionIdx] = 0.2

	st := s.EnvironmentStates()[0]
	startRot := st.RobotRotation
	prevPos, prevRot, prevJoints := st.RobotPos, st.RobotRotation, slices.Clone(st.RobotJointPositions)
	collided, free := 0, 0
	for i := 0; i < 30; i++ {
		step(t, s, drive)
		st := s.EnvironmentStates()[0]
		if st.DidCollide {
			collided++
			if st.RobotPos != prevPos {
				t.Fatalf("step %d collided but robot moved from %v to %v", i, prevPos, st.RobotPos)
			}
			if st.RobotRotation != prevRot {
				t.Fatalf("step %d collided but robot turned from %v to %v", i, prevRot, st.RobotRotation)
			}
			if !slices.Equal(st.RobotJointPositions, prevJoints) {
				t.Fatalf("step %d collided but joints moved from %v to %v", i, prevJoints, st.RobotJointPositions)
			}
		} else {
			free++
		}
		prevPos, prevRot, prevJoints = st.RobotPos, st.RobotRotation, slices.Clone(st.RobotJointPositions)
	}
	if collided == 0 {
		t.Fatal("robot never reached the wall")
	}
	if free > 0 && prevRot == startRot {
		t.Error("rotate action never turned the robot")
	}
}

func TestRobotCollisionDisabled(t *testing.T) {
	wall := geom.AABB{Min: r3.Vec{X: 1.5, Y: 0, Z: -1}, Max: r3.Vec{X: 1.7, Y: 1, Z: 1}}
	set := cubeSet([]geom.AABB{floorBox, wall}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05})
	s, _ := newTestSim(t, set, func(o *Options) { o.EnableRobotCollision = false })
	resetAll(t, s, 0)
	step(t, s, nil)

	forward := action(s, s.Robot().ActionMap.BaseMove.ActionIdx, 1)
	for i := 0; i < 20; i++ {
		step(t, s, forward)
		if s.EnvironmentStates()[0].DidCollide {
			t.Fatalf("step %d collided with robot collision disabled", i)
		}
	}
}

func TestFirstStepCollisionHalts(t *testing.T) {
	wall := geom.AABB{Min: r3.Vec{X: 0.5, Y: 0, Z: -1}, Max: r3.Vec{X: 0.7, Y: 1.5, Z: 1}}
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox, wall}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)

	err := s.StepPhysics(nil)
	if !errors.Is(err, ErrFirstStepCollision) {
		t.Fatalf("err = %v, want ErrFirstStepCollision", err)
	}
	if !errors.Is(s.Err(), ErrFirstStepCollision) {
		t.Errorf("Err() = %v", s.Err())
	}
	if err := s.StepPhysics(nil); !errors.Is(err, ErrFirstStepCollision) {
		t.Errorf("later step err = %v, want the latched error", err)
	}
	if err := s.Reset([]int{0}); !errors.Is(err, ErrFirstStepCollision) {
		t.Errorf("later reset err = %v, want the latched error", err)
	}
}

func TestCloseReturnsInFlightStepError(t *testing.T) {
	wall := geom.AABB{Min: r3.Vec{X: 0.5, Y: 0, Z: -1}, Max: r3.Vec{X: 0.7, Y: 1.5, Z: 1}}
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox, wall}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}),
		func(o *Options) { o.DoAsyncPhysicsStep = true })
	resetAll(t, s, 0)

	if err := s.StartStepPhysicsOrReset(make([]float64, s.NumActions()), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrFirstStepCollision) {
		t.Errorf("Close err = %v, want ErrFirstStepCollision", err)
	}
}

func TestInvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		actions func(s *Simulator) []float64
		resets  []int
	}{
		{"nothing requested", func(*Simulator) []float64 { return nil }, nil},
		{"short actions", func(*Simulator) []float64 { return []float64{0} }, nil},
		{"NaN action", func(s *Simulator) []float64 { return action(s, 1, math.NaN()) }, nil},
		{"long resets", func(*Simulator) []float64 { return nil }, []int{0, 0}},
		{"episode out of range", func(*Simulator) []float64 { return nil }, []int{1}},
		{"negative episode", func(*Simulator) []float64 { return nil }, []int{-2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
			resetAll(t, s, 0)

			err := s.StartStepPhysicsOrReset(tt.actions(s), tt.resets)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
			if s.Err() != nil {
				t.Fatalf("invalid request halted the simulator: %v", s.Err())
			}
			step(t, s, nil)
		})
	}
}

func TestResetReusesRenderIDs(t *testing.T) {
	s, rec := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	first := s.episodes.RenderID(0, 0)
	count := rec.NumInstances(0)

	step(t, s, nil)
	resetAll(t, s, 0)
	if got := s.episodes.RenderID(0, 0); got != first {
		t.Errorf("object render id = %d after re-reset, want %d", got, first)
	}
	if got := rec.NumInstances(0); got != count {
		t.Errorf("render instances = %d after re-reset, want %d", got, count)
	}
	if st := s.EnvironmentStates()[0]; st.EpisodeStepIdx != 0 {
		t.Errorf("step idx = %d after re-reset", st.EpisodeStepIdx)
	}
}

func TestDebugInstances(t *testing.T) {
	s, rec := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)
	base := rec.NumInstances(0)

	s.AddDebugInstance("marker", 0, geom.Translation(r3.Vec{Y: 1}), false)
	s.AddDebugInstance("marker", 0, geom.Translation(r3.Vec{Y: 2}), true)
	if got := rec.NumInstances(0); got != base+2 {
		t.Fatalf("instances = %d, want %d", got, base+2)
	}

	step(t, s, nil)
	if got := rec.NumInstances(0); got != base+1 {
		t.Errorf("after step instances = %d, want transient removed", got)
	}

	resetAll(t, s, 0)
	if got := rec.NumInstances(0); got != base {
		t.Errorf("after reset instances = %d, want persistent removed", got)
	}
}

func TestPersistentDebugInstanceNeedsEpisode(t *testing.T) {
	s, rec := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	before := rec.NumInstances(0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		if rec.NumInstances(0) != before {
			t.Error("panicking call leaked an instance")
		}
	}()
	s.AddDebugInstance("marker", 0, geom.Identity, true)
}

func TestCamera(t *testing.T) {
	s, rec := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)

	tests := []struct {
		name string
		hfov float64
		link string
	}{
		{"zero fov", 0, ""},
		{"wide fov", 180, ""},
		{"unknown link", 60, "antenna"},
	}
	for _, tt := range tests {
		if err := s.SetCamera(r3.Vec{}, geom.IdentityRotation, tt.hfov, tt.link); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want ErrInvalidRequest", tt.name, err)
		}
	}

	if err := s.SetCamera(r3.Vec{}, geom.IdentityRotation, 60, "gripper_link"); err != nil {
		t.Fatal(err)
	}
	s.StartRender()
	s.WaitRender()
	cam := rec.Camera(0)
	if cam.HFOV != 60 {
		t.Errorf("hfov = %g", cam.HFOV)
	}
	if ee := s.EnvironmentStates()[0].EEPos; !near(cam.Transform.Translation, ee) {
		t.Errorf("attached camera at %v, want gripper %v", cam.Transform.Translation, ee)
	}
	if rec.Frames() != 1 {
		t.Errorf("frames = %d", rec.Frames())
	}

	step(t, s, nil)
	s.StartRender()
	s.WaitRender()
	if rec.Frames() != 2 {
		t.Errorf("frames = %d", rec.Frames())
	}
}

func TestMisuseRaisesPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(s *Simulator)
	}{
		{"render before reset", func(s *Simulator) { s.StartRender() }},
		{"wait without step", func(s *Simulator) { s.WaitStepPhysicsOrReset() }},
		{"wait render without render", func(s *Simulator) { s.WaitRender() }},
		{"states during step", func(s *Simulator) {
			if err := s.StartStepPhysicsOrReset(nil, []int{0}); err != nil {
				panic("unexpected error " + err.Error())
			}
			defer s.WaitStepPhysicsOrReset()
			s.EnvironmentStates()
		}},
		{"step during render", func(s *Simulator) {
			if err := s.Reset([]int{0}); err != nil {
				panic("unexpected error " + err.Error())
			}
			s.StartRender()
			s.StepPhysics(nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic")
				}
				if msg, ok := r.(string); ok && strings.HasPrefix(msg, "unexpected error") {
					t.Fatal(msg)
				}
			}()
			tt.fn(s)
		})
	}
}

func TestAsyncMatchesSync(t *testing.T) {
	run := func(async bool) []EnvironmentState {
		set := cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05})
		s, _ := newTestSim(t, set, func(o *Options) {
			o.NumEnvs = 3
			o.NumSubsteps = 2
			o.DoAsyncPhysicsStep = async
			o.ForceRandomActions = true
		})
		resetAll(t, s, 0)
		for i := 0; i < 25; i++ {
			if err := s.StartStepPhysicsOrReset(make([]float64, s.NumEnvs()*s.NumActions()), nil); err != nil {
				t.Fatal(err)
			}
			if err := s.WaitStepPhysicsOrReset(); err != nil {
				t.Fatal(err)
			}
		}
		out := make([]EnvironmentState, s.NumEnvs())
		for b, st := range s.EnvironmentStates() {
			out[b] = st
			out[b].RobotJointPositions = append([]float64(nil), st.RobotJointPositions...)
		}
		return out
	}

	sync, async := run(false), run(true)
	for b := range sync {
		if sync[b].RobotPos != async[b].RobotPos || sync[b].RobotRotation != async[b].RobotRotation {
			t.Errorf("env %d pose differs: %v vs %v", b, sync[b].RobotPos, async[b].RobotPos)
		}
		for j := range sync[b].RobotJointPositions {
			if sync[b].RobotJointPositions[j] != async[b].RobotJointPositions[j] {
				t.Errorf("env %d joint %d differs", b, j)
			}
		}
		if sync[b].EpisodeStepIdx != 25 {
			t.Errorf("env %d step idx = %d", b, sync[b].EpisodeStepIdx)
		}
	}
}

func TestPartialReset(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}),
		func(o *Options) { o.NumEnvs = 2 })
	resetAll(t, s, 0)
	step(t, s, nil)
	step(t, s, nil)

	if err := s.Reset([]int{-1, 0}); err != nil {
		t.Fatal(err)
	}
	states := s.EnvironmentStates()
	if states[0].EpisodeStepIdx != 3 || states[1].EpisodeStepIdx != 0 {
		t.Errorf("step idx = %d %d, want 3 0", states[0].EpisodeStepIdx, states[1].EpisodeStepIdx)
	}
}

func TestReloadCollection(t *testing.T) {
	s, _ := newTestSim(t, cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05}), nil)
	resetAll(t, s, 0)

	if err := s.ReloadCollection(defaultCollection(t)); err != nil {
		t.Fatal(err)
	}
	step(t, s, nil)

	col := defaultCollection(t)
	col.CollisionRadiusWorkingSet = []float64{0.05, 0.2}
	if err := s.ReloadCollection(col); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestCollisionSwitchesLeaveSharedSetUntouched(t *testing.T) {
	col := defaultCollection(t)
	set := cubeSet([]geom.AABB{floorBox}, r2.Vec{}, r3.Vec{X: -1, Y: 0.05})
	if err := set.PostLoadFixup(col, episode.FixupOptions{ColumnGridSpacing: 0.05}); err != nil {
		t.Fatal(err)
	}
	want := len(set.FreeObjects[0].CollisionSpheres)
	if want == 0 {
		t.Fatal("cube has no collision spheres")
	}

	opts := DefaultOptions()
	opts.EnableHeldObjectCollision = false
	first, err := New(opts, col, set, renderer.NewRecorder(opts.NumEnvs))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if n := len(first.EpisodeSet().FreeObjects[0].CollisionSpheres); n != 0 {
		t.Errorf("held collision off: simulator sees %d object spheres, want 0", n)
	}
	if n := len(set.FreeObjects[0].CollisionSpheres); n != want {
		t.Errorf("shared set has %d object spheres after New, want %d", n, want)
	}

	second, err := New(DefaultOptions(), col, set, renderer.NewRecorder(1))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if n := len(second.EpisodeSet().FreeObjects[0].CollisionSpheres); n != want {
		t.Errorf("second simulator sees %d object spheres, want %d", n, want)
	}

	if err := first.ReloadCollection(col); err != nil {
		t.Fatal(err)
	}
	if n := len(second.EpisodeSet().FreeObjects[0].CollisionSpheres); n != want {
		t.Errorf("reload in one simulator changed another's spheres to %d, want %d", n, want)
	}
}

func TestStatRecordString(t *testing.T) {
	tests := []struct {
		name string
		rec  StatRecord
		want string
	}{
		{"empty", StatRecord{}, "no recent steps"},
		{"no episodes", StatRecord{NumSteps: 4}, "no recent episodes"},
		{
			"mixed",
			StatRecord{NumSteps: 8, NumEpisodes: 2, NumStepsInCollision: 2, NumGripAttempts: 3, NumGrips: 2, NumDrops: 1},
			"collisionFraction 0.25, gripAttemptsPerEpisode 1.5, gripsPerEpisode 1, dropsPerEpisode 0.5, failedDropsPerEpisode 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func mustInstance(t *testing.T, rec *renderer.Recorder, id int) renderer.Instance {
	t.Helper()
	inst, ok := rec.Instance(0, id)
	if !ok {
		t.Fatalf("render instance %d not live", id)
	}
	return inst
}
