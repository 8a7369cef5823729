package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartIteration()
		pc.StartPhase(PhaseStep)
		time.Sleep(200 * time.Microsecond)
		pc.StartPhase(PhaseObserve)
		time.Sleep(100 * time.Microsecond)
		if d := pc.EndIteration(); d < 200*time.Microsecond {
			t.Errorf("step phase = %v, want at least 200us", d)
		}
	}

	stats := pc.Stats()
	if stats.AvgDuration <= 0 {
		t.Error("expected positive average duration")
	}
	for _, phase := range []string{PhaseStep, PhaseObserve} {
		if _, ok := stats.PhaseAvg[phase]; !ok {
			t.Errorf("expected %s phase to be tracked", phase)
		}
	}
	if stats.MinDuration > stats.AvgDuration || stats.AvgDuration > stats.MaxDuration {
		t.Errorf("min %v avg %v max %v out of order", stats.MinDuration, stats.AvgDuration, stats.MaxDuration)
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartIteration()
		pc.StartPhase(PhaseStep)
		time.Sleep(10 * time.Microsecond)
		pc.EndIteration()
	}

	stats := pc.Stats()
	if stats.AvgDuration <= 0 {
		t.Error("expected positive average duration after window filled")
	}
	if stats.StepsPerSecond <= 0 {
		t.Error("expected positive steps per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartIteration()
		pc.StartPhase(PhaseStream)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhaseStep)
		time.Sleep(300 * time.Microsecond)
		pc.EndIteration()
	}

	stats := pc.Stats()
	if stats.PhasePct[PhaseStep] <= stats.PhasePct[PhaseStream] {
		t.Errorf("expected step phase (%v%%) > stream phase (%v%%)",
			stats.PhasePct[PhaseStep], stats.PhasePct[PhaseStream])
	}

	row := stats.ToCSV(42)
	if row.WindowEnd != 42 || row.StepPct != stats.PhasePct[PhaseStep] {
		t.Errorf("csv row = %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10).Stats()

	if stats.AvgDuration != 0 {
		t.Error("expected zero avg duration for empty collector")
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("expected non-nil phase maps")
	}
}

func TestPerfCollector_FrameTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	pc.RecordFrame()
	time.Sleep(16 * time.Millisecond)
	pc.RecordFrame()

	stats := pc.Stats()
	if stats.FrameDuration < 15*time.Millisecond {
		t.Errorf("expected frame duration >= 15ms, got %v", stats.FrameDuration)
	}
	if stats.FPS <= 0 || stats.FPS > 70 {
		t.Errorf("expected FPS in (0, 70] with 16ms frames, got %v", stats.FPS)
	}
}
