package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"medscreen/internal/domain"
	"medscreen/internal/logging"
)

// Snapshot is the on-disk recovery checkpoint: the source of truth for
// assessment records and the ID counter across restarts. The key-value
// store is a fast mirror of it, not the other way around.
type Snapshot struct {
	Assessments      map[string]domain.AssessmentJob `json:"assessments"`
	NextAssessmentID int64                           `json:"next_assessment_id"`
}

// SnapshotFile guards the checkpoint with an OS file lock for cross-process
// writers and an in-process mutex around the lock acquisition. Writes are
// atomic: temp file plus rename.
type SnapshotFile struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
}

// NewSnapshotFile prepares a snapshot at path. The lock file sits next to
// it.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path, fl: flock.New(path + ".lock")}
}

// LockPath returns the lock file guarding this snapshot.
func (s *SnapshotFile) LockPath() string { return s.fl.Path() }

// Load reads the current snapshot. A missing file is an empty snapshot.
// Reads need no lock: writers replace the file atomically.
func (s *SnapshotFile) Load() (Snapshot, error) {
	snap := Snapshot{Assessments: map[string]domain.AssessmentJob{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot %s: %w", s.path, err)
	}
	if snap.Assessments == nil {
		snap.Assessments = map[string]domain.AssessmentJob{}
	}
	return snap, nil
}

// Update applies fn under the file lock and persists the result. Blocks
// until the lock is available.
func (s *SnapshotFile) Update(fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("failed to acquire snapshot lock: %w", err)
	}
	defer s.fl.Unlock()
	return s.updateLocked(fn)
}

// TryUpdate is Update with a non-blocking lock attempt. ok is false when
// another process holds the lock; fn was not run in that case.
func (s *SnapshotFile) TryUpdate(fn func(*Snapshot) error) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try snapshot lock: %w", err)
	}
	if !locked {
		return false, nil
	}
	defer s.fl.Unlock()
	return true, s.updateLocked(fn)
}

func (s *SnapshotFile) updateLocked(fn func(*Snapshot) error) error {
	snap, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(&snap); err != nil {
		return err
	}
	return s.write(snap)
}

// write persists atomically: marshal, write a temp file in the same
// directory, rename over the target.
func (s *SnapshotFile) write(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	logging.StoreDebug("snapshot written: %d assessments, next id %d", len(snap.Assessments), snap.NextAssessmentID)
	return nil
}
