package game

import (
	"log/slog"
	"time"
)

// flushTelemetry closes the stats window when it is due: it drains the
// simulator's counters into the metrics and writes the window, perf and
// buffered events to the output files.
func (g *Game) flushTelemetry() error {
	if !g.collector.ShouldFlush(g.tick) {
		return nil
	}

	rec := g.sim.TakeRecentStats()
	g.metrics.AddStats(rec)

	now := time.Now()
	stats := g.collector.Flush(g.tick, rec, now.Sub(g.windowStart))
	g.windowStart = now
	perfStats := g.perfCollector.Stats()
	g.latestWindow.Store(&stats)

	if g.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}
	if g.cfg.Telemetry.LogEvents {
		for _, e := range g.events {
			slog.Info("event", "type", e.Type, "step", e.Step, "env", e.Env, "episode", e.Episode, "object", e.Object)
		}
	}

	if err := g.outputManager.WriteTelemetry(stats); err != nil {
		return err
	}
	if err := g.outputManager.WritePerf(perfStats, stats.WindowEndStep); err != nil {
		return err
	}
	if err := g.outputManager.WriteEvents(g.events); err != nil {
		return err
	}
	g.events = g.events[:0]
	return nil
}
