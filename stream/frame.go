package stream

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/sim"
)

// num is a float that encodes NaN and infinities as JSON null.
type num float64

func (n num) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

type vec3 [3]num

// rot is a quaternion as [w, x, y, z].
type rot [4]num

func toVec3(v r3.Vec) vec3 { return vec3{num(v.X), num(v.Y), num(v.Z)} }

func toRot(q quat.Number) rot { return rot{num(q.Real), num(q.Imag), num(q.Jmag), num(q.Kmag)} }

// EnvFrame is one env's state as sent to clients.
type EnvFrame struct {
	EpisodeIdx     int `json:"episode_idx"`
	EpisodeStepIdx int `json:"episode_step_idx"`
	TargetObjIdx   int `json:"target_obj_idx"`

	TargetObjStartPos      vec3 `json:"target_obj_start_pos"`
	TargetObjStartRotation rot  `json:"target_obj_start_rotation"`
	RobotStartPos          vec3 `json:"robot_start_pos"`
	RobotStartRotation     rot  `json:"robot_start_rotation"`
	GoalPos                vec3 `json:"goal_pos"`
	GoalRotation           rot  `json:"goal_rotation"`

	RobotPos                      vec3  `json:"robot_pos"`
	RobotRotation                 rot   `json:"robot_rotation"`
	RobotJointPositions           []num `json:"robot_joint_positions"`
	RobotJointPositionsNormalized []num `json:"robot_joint_positions_normalized"`
	EEPos                         vec3  `json:"ee_pos"`
	EERotation                    rot   `json:"ee_rotation"`
	DidCollide                    bool  `json:"did_collide"`
	HeldObjIdx                    int   `json:"held_obj_idx"`

	DidGrasp   bool `json:"did_grasp"`
	DidDrop    bool `json:"did_drop"`
	DropHeight num  `json:"drop_height"`

	ObjPositions []vec3 `json:"obj_positions"`
	ObjRotations []rot  `json:"obj_rotations"`
}

// Frame is one broadcast message.
type Frame struct {
	Event string     `json:"event"`
	Step  int        `json:"step"`
	Envs  []EnvFrame `json:"envs"`
}

// NewFrame copies states into a frame. The frame owns its slices, so the
// simulator may overwrite states once NewFrame returns.
func NewFrame(step int, states []sim.EnvironmentState) Frame {
	f := Frame{Event: "env_states", Step: step, Envs: make([]EnvFrame, len(states))}
	for b := range states {
		st := &states[b]
		e := &f.Envs[b]
		*e = EnvFrame{
			EpisodeIdx:             st.EpisodeIdx,
			EpisodeStepIdx:         st.EpisodeStepIdx,
			TargetObjIdx:           st.TargetObjIdx,
			TargetObjStartPos:      toVec3(st.TargetObjStartPos),
			TargetObjStartRotation: toRot(st.TargetObjStartRotation),
			RobotStartPos:          toVec3(st.RobotStartPos),
			RobotStartRotation:     toRot(st.RobotStartRotation),
			GoalPos:                toVec3(st.GoalPos),
			GoalRotation:           toRot(st.GoalRotation),
			RobotPos:               toVec3(st.RobotPos),
			RobotRotation:          toRot(st.RobotRotation),
			EEPos:                  toVec3(st.EEPos),
			EERotation:             toRot(st.EERotation),
			DidCollide:             st.DidCollide,
			HeldObjIdx:             st.HeldObjIdx,
			DidGrasp:               st.DidGrasp,
			DidDrop:                st.DidDrop,
			DropHeight:             num(st.DropHeight),

			RobotJointPositions:           make([]num, len(st.RobotJointPositions)),
			RobotJointPositionsNormalized: make([]num, len(st.RobotJointPositionsNormalized)),
			ObjPositions:                  make([]vec3, len(st.ObjPositions)),
			ObjRotations:                  make([]rot, len(st.ObjRotations)),
		}
		for i, p := range st.RobotJointPositions {
			e.RobotJointPositions[i] = num(p)
		}
		for i, p := range st.RobotJointPositionsNormalized {
			e.RobotJointPositionsNormalized[i] = num(p)
		}
		for i, p := range st.ObjPositions {
			e.ObjPositions[i] = toVec3(p)
		}
		for i, q := range st.ObjRotations {
			e.ObjRotations[i] = toRot(q)
		}
	}
	return f
}
