package telemetry

import (
	"time"

	"github.com/pthm-cable/batchsim/sim"
)

// Collector accumulates per-step observations within windows of steps
// and produces WindowStats.
type Collector struct {
	windowSteps int

	// Current window tracking
	windowStartStep int

	// Per-env episode progress, for episode lengths
	lastStepIdx []int

	dropHeights    []float64
	episodeLengths []float64
	envsHolding    int
}

// NewCollector creates a new stats collector flushing every windowSteps
// steps.
func NewCollector(windowSteps int) *Collector {
	if windowSteps < 1 {
		windowSteps = 1
	}
	return &Collector{windowSteps: windowSteps}
}

// Observe records the env states after a step.
func (c *Collector) Observe(states []sim.EnvironmentState) {
	if len(c.lastStepIdx) != len(states) {
		c.lastStepIdx = make([]int, len(states))
	}
	c.envsHolding = 0
	for b := range states {
		st := &states[b]
		if st.EpisodeIdx < 0 {
			continue
		}
		if st.EpisodeStepIdx == 0 && c.lastStepIdx[b] > 0 {
			c.episodeLengths = append(c.episodeLengths, float64(c.lastStepIdx[b]))
		}
		c.lastStepIdx[b] = st.EpisodeStepIdx
		if st.DidDrop {
			c.dropHeights = append(c.dropHeights, st.DropHeight)
		}
		if st.HeldObjIdx != -1 {
			c.envsHolding++
		}
	}
}

// EnvsHolding returns how many envs held an object at the last Observe.
func (c *Collector) EnvsHolding() int {
	return c.envsHolding
}

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(step int) bool {
	return step-c.windowStartStep >= c.windowSteps
}

// Flush produces a WindowStats from the simulator's counts for the
// window and resets for the next one.
func (c *Collector) Flush(step int, rec sim.StatRecord, wallTime time.Duration) WindowStats {
	stats := WindowStats{
		WindowStartStep: c.windowStartStep,
		WindowEndStep:   step,
		WallTimeSec:     wallTime.Seconds(),

		Steps:            rec.NumSteps,
		Episodes:         rec.NumEpisodes,
		StepsInCollision: rec.NumStepsInCollision,
		GripAttempts:     rec.NumGripAttempts,
		Grips:            rec.NumGrips,
		Drops:            rec.NumDrops,
		FailedDrops:      rec.NumFailedDrops,

		CollisionFraction: rec.CollisionFraction(),
		EnvsHolding:       c.envsHolding,
	}
	if rec.NumGripAttempts > 0 {
		stats.GripSuccessRate = float64(rec.NumGrips) / float64(rec.NumGripAttempts)
	}
	if rec.NumEpisodes > 0 {
		stats.GripAttemptsPerEpisode = float64(rec.NumGripAttempts) / float64(rec.NumEpisodes)
		stats.DropsPerEpisode = float64(rec.NumDrops) / float64(rec.NumEpisodes)
	}

	stats.DropHeightMean, stats.DropHeightP10, stats.DropHeightP50, stats.DropHeightP90 =
		ComputeDistribution(c.dropHeights)
	stats.EpisodeLengthMean, _, stats.EpisodeLengthP50, _ = ComputeDistribution(c.episodeLengths)

	// Reset for next window
	c.windowStartStep = step
	c.dropHeights = c.dropHeights[:0]
	c.episodeLengths = c.episodeLengths[:0]

	return stats
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int {
	return c.windowSteps
}
