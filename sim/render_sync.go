package sim

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/renderer"
)

// updateRenderInstances pushes robot node and held object transforms to
// the backend. An env that collided on its only substep did not move.
func (s *Simulator) updateRenderInstances(force bool) {
	if !force && !s.robots.CollisionResultsValid {
		panic("sim: render sync without valid collision results")
	}
	cur := s.storage.Current()
	for b := range s.resets {
		if !s.episodes.Envs[b].Active() {
			continue
		}
		ri := &s.robots.Envs[b]
		moved := force || !ri.Collided || s.opts.NumSubsteps > 1 || s.isResetting(b)
		if !moved {
			continue
		}

		nodes := cur.Nodes(b)
		for node, v := range s.robots.NodeVisuals[b] {
			if id, ok := v.ID(); ok {
				s.backend.UpdateInstanceTransform(b, id, nodes[node])
			}
		}

		if ri.Holding() {
			xf := s.heldObjectTransform(b)
			s.backend.UpdateInstanceTransform(b, s.episodes.RenderID(b, ri.GrippedIdx), xf)
			pose := s.episodes.Pose(b, ri.GrippedIdx)
			pose.Position, pose.Rotation = xf.Translation, xf.Rotation
		}
	}
}

// SetCamera sets the render camera: rot and pos relative to the named
// robot link, or to the world when attachLink is empty. hfov is in
// degrees.
func (s *Simulator) SetCamera(pos r3.Vec, rot quat.Number, hfov float64, attachLink string) error {
	s.assertIdle("SetCamera")
	if hfov <= 0 || hfov >= 180 {
		return fmt.Errorf("%w: camera hfov %g outside (0, 180)", ErrInvalidRequest, hfov)
	}
	node := -1
	if attachLink != "" {
		link, ok := s.robot.Engine.LinkIndex(attachLink)
		if !ok {
			return fmt.Errorf("%w: camera attach link %q not found", ErrInvalidRequest, attachLink)
		}
		node = link + 1
	}
	aspect := s.opts.SensorAspect
	if aspect <= 0 {
		aspect = 1
	}
	s.camera = sensorCamera{
		attachNode: node,
		local: renderer.Camera{
			Transform: geom.Transform{Rotation: geom.NormalizeRotation(rot), Translation: pos},
			HFOV:      hfov,
			Aspect:    aspect,
			Near:      renderer.DefaultNear,
			Far:       renderer.DefaultFar,
		},
	}
	return nil
}

// updateCameras resolves the camera per env. Attached cameras follow the
// link's latest transform.
func (s *Simulator) updateCameras() {
	if s.camera.local.HFOV == 0 {
		return
	}
	cur := s.storage.Current()
	for b := range s.resets {
		cam := s.camera.local
		if s.camera.attachNode != -1 {
			if !s.episodes.Envs[b].Active() {
				continue
			}
			cam.Transform = cur.Nodes(b)[s.camera.attachNode].Mul(cam.Transform)
		}
		s.backend.SetCamera(b, cam)
	}
}

// AddDebugInstance adds a render instance outside the simulation. A
// transient instance lives until the next step starts; a persistent one
// lives until env is reset, so env must have an episode.
func (s *Simulator) AddDebugInstance(asset string, env int, xf geom.Transform, persistent bool) int {
	s.assertIdle("AddDebugInstance")
	inst := &s.episodes.Envs[env]
	if persistent && !inst.Active() {
		panic(fmt.Sprintf("sim: persistent debug instance for env %d without an episode", env))
	}
	id := s.backend.AddInstance(env, asset, xf)
	if persistent {
		inst.DebugInstances = append(inst.DebugInstances, id)
	} else {
		s.debugInstances[env] = append(s.debugInstances[env], id)
	}
	return id
}

// SceneBoxes returns the static collision boxes of env b's scene, or nil
// before its first reset.
func (s *Simulator) SceneBoxes(b int) []geom.AABB {
	s.assertIdle("SceneBoxes")
	if !s.episodes.Envs[b].Active() {
		return nil
	}
	return s.episodes.Scene(b).CollisionBoxes
}
