// Package resultlog writes the per-class results files of a run
package resultlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RMahshie/sigcal/pkg/models"
	"go.uber.org/multierr"
)

// SimulatedPrefix marks files written by simulated runs
const SimulatedPrefix = "MOCK_"

type class struct {
	name   string
	header string
}

var classes = map[models.Kind]class{
	models.KindAM:    {name: "AM_MOD_Results.txt", header: "Frequency,AM Modulation (%),Distortion (%),Timestamp"},
	models.KindFM:    {name: "FM_MOD_Results.txt", header: "Frequency,FM Modulation (Hz),Distortion (%),Timestamp"},
	models.KindLevel: {name: "LEVEL_Results.txt", header: "Frequency,Measured,Uncertainty,Timestamp"},
}

// Order in which files are created and listed
var kinds = []models.Kind{models.KindAM, models.KindFM, models.KindLevel}

// FileName returns the results file name for kind in mode
func FileName(kind models.Kind, mode models.Mode) string {
	name := classes[kind].name
	if mode == models.ModeSimulated {
		return SimulatedPrefix + name
	}
	return name
}

// Files holds the open results files of a run
type Files struct {
	mu     sync.Mutex
	files  map[models.Kind]*os.File
	paths  []string
	closed bool
}

// Open truncates or creates all three results files in dir and writes
// their headers
func Open(dir string, mode models.Mode) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	f := &Files{files: make(map[models.Kind]*os.File, len(kinds))}
	for _, kind := range kinds {
		path := filepath.Join(dir, FileName(kind, mode))
		file, err := os.Create(path)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to create %s: %w", path, err), f.Close())
		}
		f.files[kind] = file
		f.paths = append(f.paths, path)

		if _, err := fmt.Fprintln(file, classes[kind].header); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to write header to %s: %w", path, err), f.Close())
		}
	}
	return f, nil
}

// Append writes result to the file of its class and syncs it so a crash
// loses at most the line being written
func (f *Files) Append(result models.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("results files closed")
	}
	file, ok := f.files[result.Kind]
	if !ok {
		return fmt.Errorf("no results file for kind %q", result.Kind)
	}
	if _, err := fmt.Fprintln(file, result.LogLine()); err != nil {
		return fmt.Errorf("failed to append to %s: %w", file.Name(), err)
	}
	return file.Sync()
}

// Paths lists the file paths in creation order
func (f *Files) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// Close closes every file. It is safe to call more than once.
func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs error
	for _, kind := range kinds {
		if file, ok := f.files[kind]; ok {
			errs = multierr.Append(errs, file.Close())
		}
	}
	return errs
}
