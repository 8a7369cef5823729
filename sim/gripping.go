package sim

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/placement"
)

// updateGripping resolves grasp and drop intents. Envs in collision skip
// this substep and retry on the next.
func (s *Simulator) updateGripping() error {
	for b := range s.resets {
		if !s.stepping(b) {
			continue
		}
		ri := &s.robots.Envs[b]
		if ri.Collided {
			continue
		}
		if ri.DoAttemptGrip {
			if err := s.attemptGrip(b); err != nil {
				return err
			}
		}
		if ri.DoAttemptDrop {
			if err := s.attemptDrop(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// attemptGrip probes for a free object at the gripper. A found object is
// pulled from the grid and held only if it fits in the gripper without
// touching anything.
func (s *Simulator) attemptGrip(b int) error {
	ri := &s.robots.Envs[b]
	if ri.Holding() {
		panic(fmt.Sprintf("sim: env %d grip attempt while holding %d", b, ri.GrippedIdx))
	}
	ri.DoAttemptGrip = false
	s.recent.NumGripAttempts++

	grid := s.episodes.Envs[b].Grid
	probe := ri.GripperLink.Point(s.robot.GripperQueryOffset)
	idx := grid.ContactTest(probe, s.robot.GripperQueryRadius)
	if idx == -1 {
		return nil
	}

	obs := grid.Obstacle(idx)
	prevPos, prevRot := obs.Pos, obs.Rotation()
	s.removeFreeObject(b, idx)
	ri.GrippedIdx = idx

	if s.heldObjectHit(b) {
		ri.GrippedIdx = -1
		return s.reinsertFreeObject(b, idx, prevPos, prevRot)
	}

	ri.GrippedPrevPos = prevPos
	s.recent.NumGrips++
	s.states[b].DidGrasp = true
	return nil
}

// attemptDrop places the held object below the gripper, falling back to
// where it was picked up.
func (s *Simulator) attemptDrop(b int) error {
	ri := &s.robots.Envs[b]
	if !ri.Holding() {
		panic(fmt.Sprintf("sim: env %d drop attempt with nothing held", b))
	}
	ri.DoAttemptDrop = false

	idx := ri.GrippedIdx
	xf := s.heldObjectTransform(b)
	dropY := xf.Translation.Y

	helper := placement.NewHelper(s.episodes.Scene(b).ColumnGrids, s.episodes.Envs[b].Grid, s.rng, s.opts.Placement)
	fallback := ri.GrippedPrevPos
	ok, usedFallback := helper.Place(&xf, s.episodes.Def(b, idx), &fallback)
	if !ok {
		panic(fmt.Sprintf("sim: env %d placement failed despite fallback", b))
	}
	if usedFallback {
		s.recent.NumFailedDrops++
		if s.warn.Allow() {
			slog.Warn("drop placement used pre-grasp position", "env", b, "object", idx)
		}
	}

	if err := s.reinsertFreeObject(b, idx, xf.Translation, geom.NormalizeRotation(xf.Rotation)); err != nil {
		return err
	}
	ri.GrippedIdx = -1

	st := &s.states[b]
	st.DidDrop = true
	st.DropHeight = dropY - xf.Translation.Y
	s.recent.NumDrops++
	return nil
}

// removeFreeObject takes object i out of env b's grid. Its pose is NaN
// until it is reinserted or follows the gripper.
func (s *Simulator) removeFreeObject(b, i int) {
	s.episodes.Envs[b].Grid.DisableObstacle(i)
	s.episodes.Pose(b, i).Position = geom.NaNVec
}

// reinsertFreeObject moves object i to a pose and re-enables it. A pose
// outside the grid is fatal.
func (s *Simulator) reinsertFreeObject(b, i int, pos r3.Vec, rot quat.Number) error {
	if err := s.episodes.Envs[b].Grid.ReinsertObstacle(i, pos, rot); err != nil {
		return fmt.Errorf("env %d free object %d: %w", b, i, err)
	}
	pose := s.episodes.Pose(b, i)
	pose.Position, pose.Rotation = pos, rot
	s.backend.UpdateInstanceTransform(b, s.episodes.RenderID(b, i), geom.Transform{Rotation: rot, Translation: pos})
	return nil
}
