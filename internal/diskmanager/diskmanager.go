// Package diskmanager owns the capped local image cache: it names and writes
// image files and runs the retention sweep that keeps only the newest files
// of each managed directory.
package diskmanager

import (
	"cmp"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

const componentName = "diskmanager"

// tempPrefix marks in-progress writes; sweeps never count them.
const tempPrefix = ".pestwatch-"

// FileInfo describes a managed file.
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	Created time.Time // birth time where the platform has one
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Dir        string
	Kept       int
	Deleted    []string // file names, oldest first
	FreedBytes int64
}

// Manager serializes work per directory.
type Manager struct {
	locks    sync.Map // cleaned absolute dir -> *sync.Mutex
	metrics  *metrics.DiskManagerMetrics
	log      logger.Logger
	fileTime func(path string, info fs.FileInfo) time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.DiskManagerMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(mgr *Manager) {
		if log != nil {
			mgr.log = log
		}
	}
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		log:      logger.Global().Module(componentName),
		fileTime: creationTime,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockDir returns the held lock for dir; the caller must unlock it.
func (m *Manager) lockDir(dir string) *sync.Mutex {
	key := dir
	if abs, err := filepath.Abs(dir); err == nil {
		key = abs
	}
	v, _ := m.locks.LoadOrStore(filepath.Clean(key), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// ListFiles returns the regular files of dir, oldest first. Subdirectories,
// symlinks and in-progress writes are skipped.
func (m *Manager) ListFiles(dir string) ([]FileInfo, error) {
	mu := m.lockDir(dir)
	defer mu.Unlock()

	return m.listFiles(dir)
}

func (m *Manager) listFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read directory: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}

	files := getFileInfoSlice()
	defer putFileInfoSlice(files)

	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		path := filepath.Join(dir, e.Name())
		*files = append(*files, FileInfo{
			Path:    path,
			Name:    e.Name(),
			Size:    info.Size(),
			Created: m.fileTime(path, info),
		})
	}

	slices.SortFunc(*files, func(a, b FileInfo) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return slices.Clone(*files), nil
}

// Sweep deletes the oldest regular files of dir until at most maxFiles remain.
// Sweeps and writes through Store on the same directory never overlap.
func (m *Manager) Sweep(dir string, maxFiles int) (SweepResult, error) {
	if maxFiles < 0 {
		return SweepResult{}, errors.Newf("max files must not be negative, got %d", maxFiles).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	start := time.Now()
	mu := m.lockDir(dir)
	defer mu.Unlock()

	result, err := m.sweep(dir, maxFiles)
	m.metrics.RecordDuration(metrics.OpSweep, time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordOperation(metrics.OpSweep, metrics.StatusError)
		m.metrics.RecordError(metrics.OpSweep, string(errors.CategoryOf(err)))
	} else {
		m.metrics.RecordOperation(metrics.OpSweep, metrics.StatusSuccess)
	}
	m.metrics.RecordSweep(dir, len(result.Deleted), result.FreedBytes, result.Kept)

	if len(result.Deleted) > 0 {
		m.log.Debug("retention sweep removed files",
			logger.String("dir", dir),
			logger.Int("deleted", len(result.Deleted)),
			logger.Int("kept", result.Kept),
			logger.Int64("freed_bytes", result.FreedBytes))
	}
	return result, err
}

func (m *Manager) sweep(dir string, maxFiles int) (SweepResult, error) {
	result := SweepResult{Dir: dir}

	files, err := m.listFiles(dir)
	if err != nil {
		return result, err
	}
	if len(files) <= maxFiles {
		result.Kept = len(files)
		return result, nil
	}

	var errs []error
	excess := len(files) - maxFiles
	for i := range excess {
		f := files[i]
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		result.Deleted = append(result.Deleted, f.Name)
		result.FreedBytes += f.Size
	}
	result.Kept = len(files) - len(result.Deleted)

	if len(errs) > 0 {
		return result, errors.New(fmt.Errorf("failed to delete %d file(s): %w", len(errs), errors.Join(errs...))).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return result, nil
}
