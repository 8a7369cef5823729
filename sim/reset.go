package sim

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/robot"
)

// resetEpisodeInstance tears down env b's episode and loads resets[b]:
// static render instances, free objects at their spawns, and the robot
// at the agent start pose in the current storage slot.
func (s *Simulator) resetEpisodeInstance(b int) error {
	s.clearEpisodeInstance(b)

	epIdx := s.resets[b]
	env := &s.episodes.Envs[b]
	env.EpisodeIdx = epIdx
	ep := &s.set.Episodes[epIdx]
	scene := &s.set.StaticScenes[ep.StaticSceneIndex]

	for _, inst := range scene.RenderAssetInstances {
		id := s.backend.AddInstance(b, s.set.RenderAssets[inst.RenderAsset], inst.Transform)
		env.StaticInstances = append(env.StaticInstances, id)
	}

	for i, spawn := range s.set.Spawns(ep) {
		fo := &s.set.FreeObjects[spawn.FreeObjIndex]
		xf := s.set.SpawnTransform(spawn)
		id := s.backend.AddInstance(b, s.set.RenderAssets[fo.RenderAsset], xf)
		if err := s.episodes.Spawn(b, i, spawn.FreeObjIndex, xf.Translation, xf.Rotation, id); err != nil {
			return fmt.Errorf("env %d episode %d: %w", b, epIdx, err)
		}
	}
	s.checkRenderIDs(b)

	cur := s.storage.Current()
	cur.Positions[b] = ep.AgentStartPos
	cur.Yaws[b] = ep.AgentStartYaw
	joints := cur.Joints(b)
	copy(joints, s.robot.StartJointPositions)
	if len(ep.RobotStartJointPositions) > 0 {
		for i, ja := range s.robot.ActionMap.Joints {
			joints[ja.JointIdx] = ep.RobotStartJointPositions[i]
		}
	}
	for j := range joints {
		joints[j] = geom.Clamp(joints[j], s.robot.JointLo[j], s.robot.JointHi[j])
	}

	s.robots.Envs[b] = robot.Instance{GrippedIdx: -1, GripperLink: geom.NaNTransform}
	s.states[b].startEpisode(s, b)
	return nil
}

// clearEpisodeInstance deletes env b's render instances in reverse order
// of creation so the backend hands the same ids back on the next spawn.
func (s *Simulator) clearEpisodeInstance(b int) {
	env := &s.episodes.Envs[b]
	if !env.Active() {
		return
	}
	for i := len(env.DebugInstances) - 1; i >= 0; i-- {
		s.backend.DeleteInstance(b, env.DebugInstances[i])
	}
	env.DebugInstances = env.DebugInstances[:0]
	for i := len(env.Objects) - 1; i >= 0; i-- {
		s.backend.DeleteInstance(b, s.episodes.RenderID(b, i))
	}
	for i := len(env.StaticInstances) - 1; i >= 0; i-- {
		s.backend.DeleteInstance(b, env.StaticInstances[i])
	}
	s.episodes.Clear(b)
}

// checkRenderIDs warns when a spawn batch did not get contiguous render
// ids. Nothing depends on contiguity; drift points at a backend that
// does not reuse ids in LIFO order.
func (s *Simulator) checkRenderIDs(b int) {
	n := len(s.episodes.Envs[b].Objects)
	if n == 0 {
		return
	}
	first := s.episodes.RenderID(b, 0)
	for i := 1; i < n; i++ {
		if id := s.episodes.RenderID(b, i); id != first+i {
			if s.warn.Allow() {
				slog.Warn("renderer instance id drift", "env", b, "object", i, "id", id, "want", first+i)
			}
			return
		}
	}
}

// deleteDebugInstances removes the previous step's transient debug
// instances.
func (s *Simulator) deleteDebugInstances() {
	for b, ids := range s.debugInstances {
		for i := len(ids) - 1; i >= 0; i-- {
			s.backend.DeleteInstance(b, ids[i])
		}
		s.debugInstances[b] = ids[:0]
	}
}
