package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one iteration of the run loop.
const (
	PhaseStep      = "step"
	PhaseObserve   = "observe"
	PhaseRender    = "render"
	PhaseStream    = "stream"
	PhaseTelemetry = "telemetry"
)

var phases = []string{PhaseStep, PhaseObserve, PhaseRender, PhaseStream, PhaseTelemetry}

// PerfSample holds timing data for a single iteration.
type PerfSample struct {
	Duration time.Duration
	Phases   map[string]time.Duration
}

// PerfCollector tracks loop timing over a rolling window.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	iterStart     time.Time
	phaseStart    time.Time
	lastPhase     string

	// Frame timing (graphical mode)
	lastFrameTime time.Time
	frameDuration time.Duration
}

// NewPerfCollector creates a collector averaging over windowSize
// iterations.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartIteration begins timing one pass of the run loop.
func (p *PerfCollector) StartIteration() {
	p.iterStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase ends the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndIteration finishes timing and records the sample. It returns the
// time spent in PhaseStep.
func (p *PerfCollector) EndIteration() time.Duration {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		Duration: now.Sub(p.iterStart),
		Phases:   p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
	return p.currentPhases[PhaseStep]
}

// RecordFrame records frame timing for graphical mode.
func (p *PerfCollector) RecordFrame() {
	now := time.Now()
	if !p.lastFrameTime.IsZero() {
		p.frameDuration = now.Sub(p.lastFrameTime)
	}
	p.lastFrameTime = now
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration

	// Average duration and share of the iteration per phase
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	StepsPerSecond float64

	FrameDuration time.Duration
	FPS           float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	var fps float64
	if p.frameDuration > 0 {
		fps = float64(time.Second) / float64(p.frameDuration)
	}

	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg:      make(map[string]time.Duration),
			PhasePct:      make(map[string]float64),
			FrameDuration: p.frameDuration,
			FPS:           fps,
		}
	}

	var total, minDur, maxDur time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration
		if i == 0 || s.Duration < minDur {
			minDur = s.Duration
		}
		maxDur = max(maxDur, s.Duration)
		for phase, d := range s.Phases {
			phaseSum[phase] += d
		}
	}

	avg := total / time.Duration(p.sampleCount)
	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}

	var sps float64
	if avg > 0 {
		sps = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgDuration:    avg,
		MinDuration:    minDur,
		MaxDuration:    maxDur,
		PhaseAvg:       phaseAvg,
		PhasePct:       phasePct,
		StepsPerSecond: sps,
		FrameDuration:  p.frameDuration,
		FPS:            fps,
	}
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	slog.Info("perf", "perf", s)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_us", s.AvgDuration.Microseconds()),
		slog.Int64("min_us", s.MinDuration.Microseconds()),
		slog.Int64("max_us", s.MaxDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}
	if s.FPS > 0 {
		attrs = append(attrs, slog.Float64("fps", s.FPS))
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	WindowEnd    int     `csv:"window_end"`
	AvgUS        int64   `csv:"avg_us"`
	MinUS        int64   `csv:"min_us"`
	MaxUS        int64   `csv:"max_us"`
	StepsPerSec  float64 `csv:"steps_per_sec"`
	FPS          float64 `csv:"fps"`
	StepPct      float64 `csv:"step_pct"`
	ObservePct   float64 `csv:"observe_pct"`
	RenderPct    float64 `csv:"render_pct"`
	StreamPct    float64 `csv:"stream_pct"`
	TelemetryPct float64 `csv:"telemetry_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd int) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:    windowEnd,
		AvgUS:        s.AvgDuration.Microseconds(),
		MinUS:        s.MinDuration.Microseconds(),
		MaxUS:        s.MaxDuration.Microseconds(),
		StepsPerSec:  s.StepsPerSecond,
		FPS:          s.FPS,
		StepPct:      s.PhasePct[PhaseStep],
		ObservePct:   s.PhasePct[PhaseObserve],
		RenderPct:    s.PhasePct[PhaseRender],
		StreamPct:    s.PhasePct[PhaseStream],
		TelemetryPct: s.PhasePct[PhaseTelemetry],
	}
}
