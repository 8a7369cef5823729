package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of steps.
type WindowStats struct {
	WindowStartStep int     `csv:"-"`
	WindowEndStep   int     `csv:"window_end"`
	WallTimeSec     float64 `csv:"wall_time"`

	// Counts during the window
	Steps            int `csv:"steps"`
	Episodes         int `csv:"episodes"`
	StepsInCollision int `csv:"steps_in_collision"`
	GripAttempts     int `csv:"grip_attempts"`
	Grips            int `csv:"grips"`
	Drops            int `csv:"drops"`
	FailedDrops      int `csv:"failed_drops"`

	// Rates
	CollisionFraction      float64 `csv:"collision_fraction"`
	GripSuccessRate        float64 `csv:"grip_success_rate"`
	GripAttemptsPerEpisode float64 `csv:"grip_attempts_per_episode"`
	DropsPerEpisode        float64 `csv:"drops_per_episode"`

	// Envs holding an object at window end
	EnvsHolding int `csv:"envs_holding"`

	// Drop height distribution
	DropHeightMean float64 `csv:"drop_height_mean"`
	DropHeightP10  float64 `csv:"drop_height_p10"`
	DropHeightP50  float64 `csv:"drop_height_p50"`
	DropHeightP90  float64 `csv:"drop_height_p90"`

	// Length in steps of episodes that ended during the window
	EpisodeLengthMean float64 `csv:"episode_length_mean"`
	EpisodeLengthP50  float64 `csv:"episode_length_p50"`
}

// ComputeDistribution returns the mean and the 10th, 50th and 90th
// empirical percentiles of values. Returns zeros for an empty slice.
func ComputeDistribution(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean = stat.Mean(sorted, nil)
	p10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartStep),
		slog.Int("window_end", s.WindowEndStep),
		slog.Float64("wall_time", s.WallTimeSec),
		slog.Int("steps", s.Steps),
		slog.Int("episodes", s.Episodes),
		slog.Int("steps_in_collision", s.StepsInCollision),
		slog.Int("grip_attempts", s.GripAttempts),
		slog.Int("grips", s.Grips),
		slog.Int("drops", s.Drops),
		slog.Int("failed_drops", s.FailedDrops),
		slog.Float64("collision_fraction", s.CollisionFraction),
		slog.Float64("grip_success_rate", s.GripSuccessRate),
		slog.Float64("grip_attempts_per_episode", s.GripAttemptsPerEpisode),
		slog.Float64("drops_per_episode", s.DropsPerEpisode),
		slog.Int("envs_holding", s.EnvsHolding),
		slog.Float64("drop_height_mean", s.DropHeightMean),
		slog.Float64("drop_height_p50", s.DropHeightP50),
		slog.Float64("episode_length_mean", s.EpisodeLengthMean),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
