package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated throughput for one reporting window.
type WindowStats struct {
	WindowEnd   float64 // unix seconds
	DurationSec float64

	Completed       int
	Rejected        int
	CreaturesPerSec float64
	TotalCompleted  int64

	Fitness FitnessStats

	QueuedWork    int
	QueueTarget   int
	PendingResult int
	ServerStatus  string
}

// FitnessStats summarizes the scores completed within a window.
type FitnessStats struct {
	Mean  float64
	Std   float64
	P50   float64
	P90   float64
	Best  float64
	Total float64
}

// WindowStatsCSV is a flat struct for CSV export of window stats.
type WindowStatsCSV struct {
	WindowEnd       float64 `csv:"window_end"`
	DurationSec     float64 `csv:"duration_sec"`
	Completed       int     `csv:"completed"`
	Rejected        int     `csv:"rejected"`
	CreaturesPerSec float64 `csv:"creatures_per_sec"`
	TotalCompleted  int64   `csv:"total_completed"`
	FitnessMean     float64 `csv:"fitness_mean"`
	FitnessStd      float64 `csv:"fitness_std"`
	FitnessP50      float64 `csv:"fitness_p50"`
	FitnessP90      float64 `csv:"fitness_p90"`
	FitnessBest     float64 `csv:"fitness_best"`
	QueuedWork      int     `csv:"queued_work"`
	QueueTarget     int     `csv:"queue_target"`
	PendingResults  int     `csv:"pending_results"`
	ServerStatus    string  `csv:"server_status"`
}

// ToCSV converts WindowStats to a flat CSV-friendly record.
func (s WindowStats) ToCSV() WindowStatsCSV {
	return WindowStatsCSV{
		WindowEnd:       s.WindowEnd,
		DurationSec:     s.DurationSec,
		Completed:       s.Completed,
		Rejected:        s.Rejected,
		CreaturesPerSec: s.CreaturesPerSec,
		TotalCompleted:  s.TotalCompleted,
		FitnessMean:     s.Fitness.Mean,
		FitnessStd:      s.Fitness.Std,
		FitnessP50:      s.Fitness.P50,
		FitnessP90:      s.Fitness.P90,
		FitnessBest:     s.Fitness.Best,
		QueuedWork:      s.QueuedWork,
		QueueTarget:     s.QueueTarget,
		PendingResults:  s.PendingResult,
		ServerStatus:    s.ServerStatus,
	}
}

// ComputeFitnessStats summarizes values. The slice is not modified.
func ComputeFitnessStats(values []float64) FitnessStats {
	n := len(values)
	if n == 0 {
		return FitnessStats{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var fs FitnessStats
	if n > 1 {
		fs.Mean, fs.Std = stat.MeanStdDev(sorted, nil)
	} else {
		fs.Mean = sorted[0]
	}
	fs.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	fs.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	fs.Best = floats.Max(sorted)
	fs.Total = floats.Sum(sorted)
	return fs
}

// LogValue implements slog.LogValuer.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("completed", s.Completed),
		slog.Int("rejected", s.Rejected),
		slog.Float64("creatures_per_sec", s.CreaturesPerSec),
		slog.Int64("total_completed", s.TotalCompleted),
		slog.Float64("fitness_mean", s.Fitness.Mean),
		slog.Float64("fitness_best", s.Fitness.Best),
		slog.Int("queued_work", s.QueuedWork),
		slog.Int("queue_target", s.QueueTarget),
		slog.String("server_status", s.ServerStatus),
	)
}
