package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm-cable/batchsim/sim"
)

// Metrics exports simulator counters to prometheus. Labels are bounded:
// nothing is labelled per env or per episode.
type Metrics struct {
	steps            prometheus.Counter
	episodes         prometheus.Counter
	stepsInCollision prometheus.Counter
	gripAttempts     prometheus.Counter
	grips            prometheus.Counter
	drops            prometheus.Counter
	failedDrops      prometheus.Counter

	stepDuration prometheus.Histogram
	envsHolding  prometheus.Gauge
	streamConns  prometheus.Gauge
}

// NewMetrics registers the simulator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	return &Metrics{
		steps:            counter("batchsim_env_substeps_total", "Env substeps that were collision tested"),
		episodes:         counter("batchsim_episodes_total", "Episodes started"),
		stepsInCollision: counter("batchsim_env_substeps_in_collision_total", "Env substeps rolled back after a collision"),
		gripAttempts:     counter("batchsim_grip_attempts_total", "Grasp attempts"),
		grips:            counter("batchsim_grips_total", "Successful grasps"),
		drops:            counter("batchsim_drops_total", "Drops of held objects"),
		failedDrops:      counter("batchsim_failed_drops_total", "Drops that fell back to the pre-grasp position"),

		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "batchsim_step_duration_seconds",
			Help:    "Time spent in one batched physics step",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		envsHolding: f.NewGauge(prometheus.GaugeOpts{
			Name: "batchsim_envs_holding",
			Help: "Envs currently holding an object",
		}),
		streamConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "batchsim_stream_connections",
			Help: "Active env-state stream connections",
		}),
	}
}

// AddStats adds a window of simulator counts.
func (m *Metrics) AddStats(r sim.StatRecord) {
	m.steps.Add(float64(r.NumSteps))
	m.episodes.Add(float64(r.NumEpisodes))
	m.stepsInCollision.Add(float64(r.NumStepsInCollision))
	m.gripAttempts.Add(float64(r.NumGripAttempts))
	m.grips.Add(float64(r.NumGrips))
	m.drops.Add(float64(r.NumDrops))
	m.failedDrops.Add(float64(r.NumFailedDrops))
}

// ObserveStep records one step's duration and the holding count after it.
func (m *Metrics) ObserveStep(d time.Duration, envsHolding int) {
	m.stepDuration.Observe(d.Seconds())
	m.envsHolding.Set(float64(envsHolding))
}

// SetStreamConnections sets the number of stream subscribers.
func (m *Metrics) SetStreamConnections(n int) {
	m.streamConns.Set(float64(n))
}
