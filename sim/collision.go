package sim

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/columngrid"
	"github.com/pthm-cable/batchsim/geom"
)

// updateCollision tests every stepping env against its static scene and
// then its free objects. The first hit decides.
func (s *Simulator) updateCollision() error {
	if s.robots.CollisionResultsValid {
		panic("sim: collision results already valid for this substep")
	}
	s.robots.CollisionResultsValid = true

	for b := range s.resets {
		if !s.stepping(b) {
			continue
		}
		hit := s.staticHit(b) || s.freeObjectHit(b)
		s.robots.Envs[b].Collided = hit
		s.recent.NumSteps++
		if !hit {
			continue
		}
		if s.states[b].EpisodeStepIdx == 0 {
			return fmt.Errorf("%w: env %d episode %d (revise the agent start pose or rearrange the scene)",
				ErrFirstStepCollision, b, s.episodes.Envs[b].EpisodeIdx)
		}
		s.recent.NumStepsInCollision++
	}
	return nil
}

// staticHit tests the robot's spheres, then any held object's spheres,
// against the column grids.
func (s *Simulator) staticHit(b int) bool {
	grids := s.episodes.Scene(b).ColumnGrids
	origins, caches := s.robots.EnvSpheres(b)
	for i, sp := range s.robot.Spheres {
		if grids.ContactTest(sp.RadiusIdx, origins[i], &caches[i]) {
			return true
		}
	}

	ri := &s.robots.Envs[b]
	if !ri.Holding() {
		return false
	}
	xf := s.heldObjectTransform(b)
	var cache columngrid.QueryCache
	for _, sp := range s.episodes.Def(b, ri.GrippedIdx).CollisionSpheres {
		if grids.ContactTest(sp.RadiusIdx, xf.Point(sp.Origin), &cache) {
			return true
		}
	}
	return false
}

// freeObjectHit tests the robot's spheres, then any held object's
// spheres, against the env's other free objects. A held object is
// disabled in the grid and never hits itself.
func (s *Simulator) freeObjectHit(b int) bool {
	grids := s.episodes.Scene(b).ColumnGrids
	grid := s.episodes.Envs[b].Grid
	origins, _ := s.robots.EnvSpheres(b)
	for i, sp := range s.robot.Spheres {
		if grid.ContactTest(origins[i], grids.SphereRadius(sp.RadiusIdx)) != -1 {
			return true
		}
	}

	ri := &s.robots.Envs[b]
	if !ri.Holding() {
		return false
	}
	xf := s.heldObjectTransform(b)
	for _, sp := range s.episodes.Def(b, ri.GrippedIdx).CollisionSpheres {
		if grid.ContactTest(xf.Point(sp.Origin), grids.SphereRadius(sp.RadiusIdx)) != -1 {
			return true
		}
	}
	return false
}

// heldObjectHit tests a tentatively held object against both the static
// scene and the other free objects.
func (s *Simulator) heldObjectHit(b int) bool {
	grids := s.episodes.Scene(b).ColumnGrids
	grid := s.episodes.Envs[b].Grid
	xf := s.heldObjectTransform(b)
	var cache columngrid.QueryCache
	for _, sp := range s.episodes.Def(b, s.robots.Envs[b].GrippedIdx).CollisionSpheres {
		p := xf.Point(sp.Origin)
		if grids.ContactTest(sp.RadiusIdx, p, &cache) {
			return true
		}
		if grid.ContactTest(p, grids.SphereRadius(sp.RadiusIdx)) != -1 {
			return true
		}
	}
	return false
}

// heldObjectTransform places env b's held object in the gripper: its
// held rotation about the probe point, centered on its box.
func (s *Simulator) heldObjectTransform(b int) geom.Transform {
	ri := &s.robots.Envs[b]
	if !ri.Holding() {
		panic(fmt.Sprintf("sim: env %d holds no object", b))
	}
	def := s.episodes.Def(b, ri.GrippedIdx)
	return ri.GripperLink.
		Mul(geom.Translation(s.robot.GripperQueryOffset)).
		Mul(geom.Rotation(def.StartRotations[def.HeldRotationIndex])).
		Mul(geom.Translation(r3.Scale(-1, def.AABB.Center())))
}
