package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pthm-cable/batchsim/sim"
)

func TestMetricsAddStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AddStats(sim.StatRecord{NumSteps: 10, NumEpisodes: 2, NumGrips: 1})
	m.AddStats(sim.StatRecord{NumSteps: 5, NumDrops: 1, NumFailedDrops: 1})

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"steps", m.steps, 15},
		{"episodes", m.episodes, 2},
		{"grips", m.grips, 1},
		{"drops", m.drops, 1},
		{"failed drops", m.failedDrops, 1},
		{"grip attempts", m.gripAttempts, 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %g, want %g", tt.name, got, tt.want)
		}
	}
}

func TestMetricsObserveStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStep(2*time.Millisecond, 3)
	m.SetStreamConnections(2)

	if got := testutil.ToFloat64(m.envsHolding); got != 3 {
		t.Errorf("envs holding = %g, want 3", got)
	}
	if got := testutil.ToFloat64(m.streamConns); got != 2 {
		t.Errorf("stream connections = %g, want 2", got)
	}

	const want = `
# HELP batchsim_step_duration_seconds Time spent in one batched physics step
# TYPE batchsim_step_duration_seconds histogram
batchsim_step_duration_seconds_bucket{le="0.0001"} 0
batchsim_step_duration_seconds_bucket{le="0.0005"} 0
batchsim_step_duration_seconds_bucket{le="0.001"} 0
batchsim_step_duration_seconds_bucket{le="0.005"} 1
batchsim_step_duration_seconds_bucket{le="0.01"} 1
batchsim_step_duration_seconds_bucket{le="0.05"} 1
batchsim_step_duration_seconds_bucket{le="0.1"} 1
batchsim_step_duration_seconds_bucket{le="+Inf"} 1
batchsim_step_duration_seconds_sum 0.002
batchsim_step_duration_seconds_count 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "batchsim_step_duration_seconds"); err != nil {
		t.Error(err)
	}
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic registering twice")
		}
	}()
	NewMetrics(reg)
}
