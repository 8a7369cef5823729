package game

import (
	"fmt"

	"github.com/pthm-cable/batchsim/telemetry"
)

// Step runs one iteration of the batch loop: physics (with resets of
// finished episodes), observation, render and telemetry. The first call
// resets every env.
func (g *Game) Step() error {
	g.perfCollector.StartIteration()

	g.perfCollector.StartPhase(telemetry.PhaseStep)
	if err := g.stepPhysics(); err != nil {
		return fmt.Errorf("step %d: %w", g.tick, err)
	}

	g.perfCollector.StartPhase(telemetry.PhaseObserve)
	states := g.sim.EnvironmentStates()
	g.collector.Observe(states)
	g.events = telemetry.AppendEvents(g.events, g.tick, states)

	g.perfCollector.StartPhase(telemetry.PhaseRender)
	g.sim.StartRender()
	g.sim.WaitRender()

	g.perfCollector.StartPhase(telemetry.PhaseStream)
	if g.tick%g.cfg.Server.StreamEvery == 0 {
		g.hub.Publish(g.tick, states)
	}

	g.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	g.tick++
	if err := g.flushTelemetry(); err != nil {
		return err
	}

	stepTime := g.perfCollector.EndIteration()
	g.metrics.ObserveStep(stepTime, g.collector.EnvsHolding())
	return nil
}

// stepPhysics resets envs whose episode is over and steps the rest.
func (g *Game) stepPhysics() error {
	if g.tick == 0 {
		for b := range g.resets {
			g.resets[b] = g.rng.Intn(g.sim.NumEpisodes())
		}
		return g.sim.Reset(g.resets)
	}

	g.scheduleResets()
	if err := g.sim.StartStepPhysicsOrReset(nil, g.resets); err != nil {
		return err
	}
	return g.sim.WaitStepPhysicsOrReset()
}

// scheduleResets assigns a random episode to every env that has run
// max_episode_steps steps and -1 to the rest.
func (g *Game) scheduleResets() {
	states := g.sim.EnvironmentStates()
	for b := range g.resets {
		g.resets[b] = -1
		if states[b].EpisodeStepIdx >= g.cfg.Sim.MaxEpisodeSteps {
			g.resets[b] = g.rng.Intn(g.sim.NumEpisodes())
		}
	}
}
