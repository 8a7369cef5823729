package sim

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/robot"
)

// Reset loads the requested episodes and waits for them. resets[b] is an
// episode index, or -1 to leave env b alone. Envs that are not reset
// step once with zero actions.
func (s *Simulator) Reset(resets []int) error {
	s.assertIdle("Reset")
	if s.renderStart {
		panic("sim: Reset during render")
	}
	if err := s.StartStepPhysicsOrReset(nil, resets); err != nil {
		return err
	}
	if err := s.WaitStepPhysicsOrReset(); err != nil {
		return err
	}
	s.okToRender = true
	return nil
}

// StepPhysics runs one step with the given actions and waits for it.
// Empty actions step every env with zero actions.
func (s *Simulator) StepPhysics(actions []float64) error {
	if len(actions) == 0 {
		actions = make([]float64, len(s.actions))
	}
	if err := s.StartStepPhysicsOrReset(actions, nil); err != nil {
		return err
	}
	return s.WaitStepPhysicsOrReset()
}

// StartStepPhysicsOrReset begins a step. actions is laid out as
// actions[b*NumActions()+i] and may be empty (all zero); resets is
// laid out as for Reset and may be empty (no resets), but not both.
// In async mode the step runs on the worker goroutine and the call
// returns immediately; WaitStepPhysicsOrReset must follow.
//
// Once a step has failed, every later call returns that error.
func (s *Simulator) StartStepPhysicsOrReset(actions []float64, resets []int) error {
	if s.inFlight {
		panic("sim: physics step started while another is in flight")
	}
	if s.renderStart {
		panic("sim: physics step started during render")
	}
	if s.err != nil {
		return s.err
	}
	if err := s.setActionsResets(actions, resets); err != nil {
		return err
	}
	s.deleteDebugInstances()

	s.inFlight = true
	if s.worker != nil {
		s.worker.start()
	} else {
		s.syncErr = s.stepPhysics()
	}
	return nil
}

// WaitStepPhysicsOrReset blocks until the started step finishes. A
// step error halts the simulator.
func (s *Simulator) WaitStepPhysicsOrReset() error {
	if !s.inFlight {
		panic("sim: wait without a physics step in flight")
	}
	var err error
	if s.worker != nil {
		err = s.worker.wait()
	} else {
		err, s.syncErr = s.syncErr, nil
	}
	s.inFlight = false
	if err != nil {
		s.err = err
		slog.Error("physics step failed, simulator halted", "error", err)
		return err
	}
	return nil
}

// StartRender pushes cameras to the backend and starts a frame. It
// requires a completed Reset and no render or step in flight.
func (s *Simulator) StartRender() {
	s.assertIdle("StartRender")
	if !s.okToRender {
		panic("sim: StartRender before Reset or while a frame is pending")
	}
	s.updateCameras()
	s.backend.Render()
	s.okToRender = false
	s.renderStart = true
}

// WaitRender waits for the frame started by StartRender.
func (s *Simulator) WaitRender() {
	if !s.renderStart {
		panic("sim: WaitRender without StartRender")
	}
	s.backend.WaitForFrame()
	s.renderStart = false
	s.okToRender = true
}

// setActionsResets validates the request in full before storing it.
func (s *Simulator) setActionsResets(actions []float64, resets []int) error {
	if len(actions) != 0 && len(actions) != len(s.actions) {
		return fmt.Errorf("%w: actions length %d, want %d", ErrInvalidRequest, len(actions), len(s.actions))
	}
	if len(resets) != 0 && len(resets) != len(s.resets) {
		return fmt.Errorf("%w: resets length %d, want %d", ErrInvalidRequest, len(resets), len(s.resets))
	}
	if len(actions) == 0 && len(resets) == 0 {
		return fmt.Errorf("%w: at least one of actions or resets must be non-empty", ErrInvalidRequest)
	}
	for i, a := range actions {
		if math.IsNaN(a) {
			return fmt.Errorf("%w: action %d is NaN", ErrInvalidRequest, i)
		}
	}
	for b, r := range resets {
		if r < -1 || r >= len(s.set.Episodes) {
			return fmt.Errorf("%w: env %d reset to episode %d, have %d episodes",
				ErrInvalidRequest, b, r, len(s.set.Episodes))
		}
	}

	switch {
	case s.opts.ForceRandomActions:
		for i := range s.actions {
			s.actions[i] = s.rng.Float64()*2 - 1
		}
	case len(actions) > 0:
		copy(s.actions, actions)
	default:
		clear(s.actions)
	}

	// A fresh episode's first step uses the default action.
	for b := range s.states {
		if s.states[b].EpisodeStepIdx == 0 {
			clear(s.actions[b*s.numActions : (b+1)*s.numActions])
		}
	}

	if len(resets) > 0 {
		copy(s.resets, resets)
	} else {
		for b := range s.resets {
			s.resets[b] = -1
		}
	}
	return nil
}

// stepPhysics runs on the worker goroutine in async mode.
func (s *Simulator) stepPhysics() error {
	for b := range s.states {
		s.states[b].clearEvents()
	}

	for i := 0; i < s.opts.NumSubsteps; i++ {
		if err := s.substep(); err != nil {
			return err
		}
	}

	for b := range s.states {
		if s.stepping(b) {
			s.states[b].EpisodeStepIdx++
		}
	}

	for b := range s.resets {
		if !s.isResetting(b) {
			continue
		}
		if err := s.resetEpisodeInstance(b); err != nil {
			return err
		}
		s.recent.NumEpisodes++
	}

	// Collided envs were rolled back and reset envs were moved, so node
	// transforms are recomputed for everything before syncing.
	s.updateLinkTransforms(false, true)
	s.updateRenderInstances(false)
	s.updateEnvironmentStates()
	return nil
}

func (s *Simulator) substep() error {
	s.storage.Advance()
	cur, prev := s.storage.Current(), s.storage.Previous()
	am := &s.robot.ActionMap

	for b := range s.resets {
		if !s.stepping(b) {
			continue
		}
		a := s.actions[b*s.numActions : (b+1)*s.numActions]
		ri := &s.robots.Envs[b]

		ri.DoAttemptGrip, ri.DoAttemptDrop = robot.GraspIntent(ri.Holding(),
			a[am.GraspRelease.ActionIdx], am.GraspRelease.Low(), am.GraspRelease.High())

		// Heading turns first so the move follows the new yaw.
		yaw := prev.Yaws[b] + robot.RemapAction(a[am.BaseRotate.ActionIdx], am.BaseRotate.StepMin, am.BaseRotate.StepMax)
		move := robot.RemapAction(a[am.BaseMove.ActionIdx], am.BaseMove.StepMin, am.BaseMove.StepMax)
		cur.Yaws[b] = yaw
		cur.Positions[b] = r2.Add(prev.Positions[b], r2.Scale(move, geom.Heading(yaw)))

		joints, prevJoints := cur.Joints(b), prev.Joints(b)
		copy(joints, prevJoints)
		for _, ja := range am.Joints {
			j := ja.JointIdx
			delta := robot.RemapAction(a[ja.ActionIdx], ja.StepMin, ja.StepMax)
			joints[j] = geom.Clamp(prevJoints[j]+delta, s.robot.JointLo[j], s.robot.JointHi[j])
		}
	}

	s.updateLinkTransforms(true, false)
	if err := s.updateCollision(); err != nil {
		return err
	}
	if err := s.updateGripping(); err != nil {
		return err
	}
	s.postCollisionUpdate()
	return nil
}

// updateLinkTransforms runs forward kinematics on the current slot.
// forPhysics also refreshes collision sphere origins and invalidates
// collision results; includeResetting covers envs reset this step.
func (s *Simulator) updateLinkTransforms(forPhysics, includeResetting bool) {
	if forPhysics {
		s.robots.CollisionResultsValid = false
	}
	cur := s.storage.Current()
	eng := s.robot.Engine
	numLinks := eng.NumLinks()

	for b := range s.resets {
		if !s.episodes.Envs[b].Active() {
			continue
		}
		if !includeResetting && s.isResetting(b) {
			continue
		}

		root := geom.Transform{
			Rotation:    geom.YawRotation(cur.Yaws[b]),
			Translation: geom.Ground(cur.Positions[b], 0),
		}
		cur.RootTransforms[b] = root
		eng.SetBaseWorldTransform(root)

		joints := cur.Joints(b)
		for link := 0; link < numLinks; link++ {
			if off, n := eng.LinkPosVarOffset(link); n > 0 {
				eng.SetJointPosMultiDof(link, joints[off:off+n])
			}
		}
		eng.ForwardKinematics()

		nodes := cur.Nodes(b)
		nodes[0] = root
		for link := 0; link < numLinks; link++ {
			nodes[link+1] = eng.LinkWorldTransform(link)
		}
		s.robots.Envs[b].GripperLink = nodes[s.robot.GripperNode()]

		if forPhysics {
			origins, _ := s.robots.EnvSpheres(b)
			for node, idxs := range s.robot.SpheresByNode {
				for _, i := range idxs {
					origins[i] = nodes[node].Point(s.robot.Spheres[i].Origin)
				}
			}
		}
	}
}

// postCollisionUpdate rolls back every env that collided this substep.
func (s *Simulator) postCollisionUpdate() {
	if !s.robots.CollisionResultsValid {
		panic("sim: rollback without valid collision results")
	}
	for b := range s.resets {
		if s.stepping(b) && s.robots.Envs[b].Collided {
			s.storage.Rollback(b)
		}
	}
}
