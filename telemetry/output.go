package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/batchsim/config"
)

// csvFile appends records to one CSV file, writing the header once.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func createCSV(dir, name string) (*csvFile, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvFile{f: f}, nil
}

func writeRecords[T any](c *csvFile, records []T) error {
	if len(records) == 0 {
		return nil
	}
	if !c.headerWritten {
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir       string
	telemetry *csvFile
	perf      *csvFile
	events    *csvFile
}

// NewOutputManager creates the output directory and its CSV files.
// Returns nil if dir is empty (output disabled); every method is a no-op
// on a nil manager.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	var err error
	if om.telemetry, err = createCSV(dir, "telemetry.csv"); err != nil {
		return nil, err
	}
	if om.perf, err = createCSV(dir, "perf.csv"); err != nil {
		om.Close()
		return nil, err
	}
	if om.events, err = createCSV(dir, "events.csv"); err != nil {
		om.Close()
		return nil, err
	}
	return om, nil
}

// WriteConfig saves the run configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTelemetry appends a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.telemetry, []WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf appends a performance record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.perf, []PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteEvents appends events to events.csv.
func (om *OutputManager) WriteEvents(events []Event) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.events, events); err != nil {
		return fmt.Errorf("writing events: %w", err)
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
	var firstErr error
	for _, c := range []*csvFile{om.telemetry, om.perf, om.events} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
