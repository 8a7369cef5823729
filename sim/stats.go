package sim

import (
	"fmt"
	"log/slog"
)

// StatRecord counts step outcomes. NumSteps counts env substeps that were
// collision tested.
type StatRecord struct {
	NumSteps            int
	NumEpisodes         int
	NumStepsInCollision int
	NumGripAttempts     int
	NumGrips            int
	NumDrops            int
	NumFailedDrops      int
}

// Add accumulates o into r.
func (r *StatRecord) Add(o StatRecord) {
	r.NumSteps += o.NumSteps
	r.NumEpisodes += o.NumEpisodes
	r.NumStepsInCollision += o.NumStepsInCollision
	r.NumGripAttempts += o.NumGripAttempts
	r.NumGrips += o.NumGrips
	r.NumDrops += o.NumDrops
	r.NumFailedDrops += o.NumFailedDrops
}

// CollisionFraction is the share of tested steps that collided.
func (r StatRecord) CollisionFraction() float64 {
	if r.NumSteps == 0 {
		return 0
	}
	return float64(r.NumStepsInCollision) / float64(r.NumSteps)
}

func (r StatRecord) perEpisode(n int) float64 {
	return float64(n) / float64(r.NumEpisodes)
}

// String summarizes the record per episode.
func (r StatRecord) String() string {
	if r.NumSteps == 0 {
		return "no recent steps"
	}
	if r.NumEpisodes == 0 {
		return "no recent episodes"
	}
	return fmt.Sprintf("collisionFraction %.5g, gripAttemptsPerEpisode %.5g, gripsPerEpisode %.5g, "+
		"dropsPerEpisode %.5g, failedDropsPerEpisode %.5g",
		r.CollisionFraction(),
		r.perEpisode(r.NumGripAttempts),
		r.perEpisode(r.NumGrips),
		r.perEpisode(r.NumDrops),
		r.perEpisode(r.NumFailedDrops))
}

// LogValue implements slog.LogValuer.
func (r StatRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("steps", r.NumSteps),
		slog.Int("episodes", r.NumEpisodes),
		slog.Int("steps_in_collision", r.NumStepsInCollision),
		slog.Int("grip_attempts", r.NumGripAttempts),
		slog.Int("grips", r.NumGrips),
		slog.Int("drops", r.NumDrops),
		slog.Int("failed_drops", r.NumFailedDrops),
	)
}

// TakeRecentStats returns the counts since the last take and starts a
// new window.
func (s *Simulator) TakeRecentStats() StatRecord {
	s.assertIdle("TakeRecentStats")
	r := s.recent
	s.totals.Add(r)
	s.recent = StatRecord{}
	return r
}

// RecentStatsAndReset summarizes and clears the recent window.
func (s *Simulator) RecentStatsAndReset() string {
	return s.TakeRecentStats().String()
}

// TotalStats returns the counts since the simulator was created.
func (s *Simulator) TotalStats() StatRecord {
	s.assertIdle("TotalStats")
	t := s.totals
	t.Add(s.recent)
	return t
}
