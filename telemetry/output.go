package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"

	"github.com/dage/machine-evolved/config"
)

// ResultRecord is one completed creature as written to results.csv.
type ResultRecord struct {
	RunID         string  `csv:"run_id"`
	WorkerID      int     `csv:"worker"`
	Task          string  `csv:"task"`
	TaskID        string  `csv:"task_id"`
	ExperimentID  string  `csv:"experiment_id"`
	Fitness       float64 `csv:"fitness"`
	SimulatedTime int     `csv:"simulated_time"`
	WallMillis    int64   `csv:"wall_ms"`
	CompletedAt   string  `csv:"completed_at"`
}

// csvTable appends records to one CSV file, writing the header once.
type csvTable struct {
	file          *os.File
	headerWritten bool
}

func (t *csvTable) write(records any) error {
	if !t.headerWritten {
		if err := gocsv.Marshal(records, t.file); err != nil {
			return err
		}
		t.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, t.file)
}

// OutputManager writes run output as CSV files in one directory. A nil
// *OutputManager discards everything, so callers need not check whether
// output is enabled. It is safe for concurrent use.
type OutputManager struct {
	dir string

	mu         sync.Mutex
	results    csvTable
	perf       csvTable
	throughput csvTable
}

// NewOutputManager creates dir and the CSV files in it. It returns nil if
// dir is empty.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	tables := []struct {
		name  string
		table *csvTable
	}{
		{"results.csv", &om.results},
		{"perf.csv", &om.perf},
		{"throughput.csv", &om.throughput},
	}
	for _, t := range tables {
		f, err := os.Create(filepath.Join(dir, t.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", t.name, err)
		}
		t.table.file = f
	}
	return om, nil
}

// WriteConfig saves the configuration as config.yaml.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteResult appends a completed creature to results.csv.
func (om *OutputManager) WriteResult(r ResultRecord) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if err := om.results.write([]ResultRecord{r}); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// WritePerf appends a worker's performance stats to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, workerID, completed int) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(workerID, completed)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteThroughput appends a window report to throughput.csv.
func (om *OutputManager) WriteThroughput(stats WindowStats) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if err := om.throughput.write([]WindowStatsCSV{stats.ToCSV()}); err != nil {
		return fmt.Errorf("writing throughput: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()

	var errs []error
	for _, t := range []*csvTable{&om.results, &om.perf, &om.throughput} {
		if t.file == nil {
			continue
		}
		if err := t.file.Close(); err != nil {
			errs = append(errs, err)
		}
		t.file = nil
	}
	return errors.Join(errs...)
}
