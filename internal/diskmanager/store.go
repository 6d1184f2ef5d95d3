package diskmanager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hydroguard/pestwatch/internal/errors"
)

// Store writes uniquely named files into one managed directory.
type Store struct {
	dir string
	mgr *Manager
}

// NewStore creates dir if needed and returns a Store writing into it.
func (m *Manager) NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create directory: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return &Store{dir: dir, mgr: m}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string { return s.dir }

// Save writes data as <uuid><ext> and returns the file name. The file appears
// atomically: it is written under a temporary name and renamed.
func (s *Store) Save(data []byte, ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := uuid.NewString() + strings.ToLower(ext)

	mu := s.mgr.lockDir(s.dir)
	defer mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", s.ioError("create", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", s.ioError("write", err)
	}
	if err := tmp.Close(); err != nil {
		return "", s.ioError("close", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", s.ioError("chmod", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", s.ioError("rename", err)
	}

	s.mgr.metrics.RecordFileStored(s.dir)
	return name, nil
}

// Remove deletes a previously saved file. Missing files are not an error.
func (s *Store) Remove(name string) error {
	if name == "" || name != filepath.Base(name) {
		return errors.Newf("invalid file name %q", name).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	mu := s.mgr.lockDir(s.dir)
	defer mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return s.ioError("remove", err)
	}
	return nil
}

// Path returns the full path of a saved file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Sweep runs the retention sweep on the store's directory.
func (s *Store) Sweep(maxFiles int) (SweepResult, error) {
	return s.mgr.Sweep(s.dir, maxFiles)
}

func (s *Store) ioError(op string, err error) error {
	return errors.New(fmt.Errorf("failed to %s image file: %w", op, err)).
		Component(componentName).
		Category(errors.CategoryFileIO).
		Context("dir", s.dir).
		Context("operation", op).
		Build()
}
