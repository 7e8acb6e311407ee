// Package snapshot persists a model.Model as a single JSON document.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/gofrs/flock"
)

// Store reads and writes the snapshot at one path. Writes go to a temporary
// file that is renamed over the old snapshot while holding <path>.lock, so
// readers never see a partial file and concurrent writers do not interleave.
type Store struct {
	path string
	lock *flock.Flock
}

func New(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load decodes the snapshot. A missing file yields ErrTypeSnapshotNotFound and
// undecodable content yields ErrTypeSnapshotCorrupted. Derived counters that do
// not match the stored term frequencies are recomputed.
func (s *Store) Load() (*model.Model, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeSnapshotNotFound, s.path, err)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeFileAccessDenied, s.path, err)
		}
		return nil, err
	}

	m, err := Decode(data)
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeSnapshotCorrupted, s.path, err)
	}

	if m.Rebuild() {
		log.Warnf("snapshot %s had inconsistent counters, recomputed", s.path)
	}
	return m, nil
}

// Save encodes m and writes it. The caller must keep m from being mutated until
// Save returns; see Encode and Write for splitting the two steps.
func (s *Store) Save(m *model.Model) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return s.Write(data)
}

// Write atomically replaces the snapshot with data.
func (s *Store) Write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock snapshot: %w", err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	log.Debugf("wrote snapshot %s (%d bytes)", s.path, len(data))
	return nil
}

func Encode(m *model.Model) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (*model.Model, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty snapshot")
	}

	m := model.New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if m.Documents == nil {
		m.Documents = make(map[string]*model.Document)
	}
	if m.DocFreq == nil {
		m.DocFreq = make(map[string]int)
	}
	return m, nil
}
