package sim

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/robot"
)

// EnvironmentState is the per-env observation refreshed after every step.
// Positions are world space, Y up. Slices are reused between steps.
type EnvironmentState struct {
	EpisodeIdx     int // -1 before the first reset
	EpisodeStepIdx int // 0 right after a reset
	TargetObjIdx   int // index into ObjPositions

	TargetObjStartPos      r3.Vec
	TargetObjStartRotation quat.Number
	RobotStartPos          r3.Vec
	RobotStartRotation     quat.Number
	GoalPos                r3.Vec
	GoalRotation           quat.Number

	RobotPos                      r3.Vec
	RobotRotation                 quat.Number
	RobotJointPositions           []float64
	RobotJointPositionsNormalized []float64
	EEPos                         r3.Vec
	EERotation                    quat.Number
	DidCollide                    bool
	HeldObjIdx                    int // -1 when idle

	// Events from any substep of the last step.
	DidGrasp   bool
	DidDrop    bool
	DropHeight float64 // NaN without a drop

	// Held objects follow the gripper; objects pulled from the grid
	// mid-grasp are NaN.
	ObjPositions []r3.Vec
	ObjRotations []quat.Number
}

func newEnvironmentState() EnvironmentState {
	return EnvironmentState{
		EpisodeIdx:     -1,
		EpisodeStepIdx: -1,
		TargetObjIdx:   -1,
		HeldObjIdx:     -1,
		DropHeight:     math.NaN(),
	}
}

func (st *EnvironmentState) clearEvents() {
	st.DidGrasp = false
	st.DidDrop = false
	st.DropHeight = math.NaN()
}

// startEpisode fills the per-episode fields after env b is reset.
func (st *EnvironmentState) startEpisode(s *Simulator, b int) {
	env := &s.episodes.Envs[b]
	ep := s.episodes.Episode(b)
	target := s.set.SpawnTransform(s.set.Spawns(ep)[ep.TargetObjIndex])

	st.EpisodeIdx = env.EpisodeIdx
	st.EpisodeStepIdx = 0
	st.TargetObjIdx = ep.TargetObjIndex
	st.TargetObjStartPos = target.Translation
	st.TargetObjStartRotation = target.Rotation
	st.RobotStartPos = geom.Ground(ep.AgentStartPos, 0)
	st.RobotStartRotation = geom.YawRotation(ep.AgentStartYaw)
	st.GoalPos = ep.TargetObjGoalPos
	st.GoalRotation = ep.TargetObjGoalRotation
	st.DidCollide = false
	st.HeldObjIdx = -1
	st.clearEvents()
}

// updateEnvironmentStates copies the current slot, robot state and
// object poses into the observation records.
func (s *Simulator) updateEnvironmentStates() {
	cur := s.storage.Current()
	for b := range s.states {
		env := &s.episodes.Envs[b]
		if !env.Active() {
			continue
		}
		st := &s.states[b]
		ri := &s.robots.Envs[b]

		st.RobotPos = geom.Ground(cur.Positions[b], 0)
		st.RobotRotation = geom.YawRotation(cur.Yaws[b])

		joints := cur.Joints(b)
		st.RobotJointPositions = append(st.RobotJointPositions[:0], joints...)
		st.RobotJointPositionsNormalized = st.RobotJointPositionsNormalized[:0]
		for j, p := range joints {
			st.RobotJointPositionsNormalized = append(st.RobotJointPositionsNormalized,
				robot.NormalizeJointPosition(p, s.robot.JointLo[j], s.robot.JointHi[j]))
		}

		st.EEPos = ri.GripperLink.Translation
		st.EERotation = ri.GripperLink.Rotation
		st.DidCollide = ri.Collided
		st.HeldObjIdx = ri.GrippedIdx

		st.ObjPositions = st.ObjPositions[:0]
		st.ObjRotations = st.ObjRotations[:0]
		for i := range env.Objects {
			pose := s.episodes.Pose(b, i)
			st.ObjPositions = append(st.ObjPositions, pose.Position)
			st.ObjRotations = append(st.ObjRotations, pose.Rotation)
		}
	}
}

// EnvironmentStates returns the observation of every env. The records
// are overwritten by the next step; callers that keep them must copy.
func (s *Simulator) EnvironmentStates() []EnvironmentState {
	s.assertIdle("EnvironmentStates")
	return s.states
}
