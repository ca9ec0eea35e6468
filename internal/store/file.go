package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the dose in a small YAML document. Writes go to a temp
// file that is renamed into place, under an advisory lock shared with other
// processes (a second daemon or an operator tool).
type FileStore struct {
	path string
	now  func() time.Time
}

type fileDoc struct {
	TotalDose float32 `yaml:"total_dose_usv"`
	Updated   string  `yaml:"updated,omitempty"`
}

// NewFileStore returns a store backed by path. The file is created on the
// first StoreDose.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// LoadDose reads the stored dose. A missing file reads as 0.
func (f *FileStore) LoadDose() (float32, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dose file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse dose file: %w", err)
	}
	return doc.TotalDose, nil
}

// StoreDose writes the dose. It returns ErrBusy if another writer holds
// the lock.
func (f *FileStore) StoreDose(dose float32) error {
	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	data, err := yaml.Marshal(fileDoc{
		TotalDose: dose,
		Updated:   f.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode dose file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename dose file: %w", err)
	}
	return nil
}

// Close is a no-op for FileStore.
func (f *FileStore) Close() error {
	return nil
}
