// Package ident allocates assessment IDs: short monotonic integers guarded
// by a cross-process file lock, with a UUID fallback when the lock is
// unavailable.
package ident

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"medscreen/internal/jobstore"
	"medscreen/internal/logging"
)

// Allocator hands out assessment IDs. IDs are strings at the boundary:
// either a monotonic integer ("17") or a UUID when the snapshot lock could
// not be acquired.
type Allocator struct {
	mu   sync.Mutex
	snap *jobstore.SnapshotFile
}

// NewAllocator builds an allocator over the shared snapshot checkpoint,
// which holds the counter.
func NewAllocator(snap *jobstore.SnapshotFile) *Allocator {
	return &Allocator{snap: snap}
}

// Allocate returns the next ID. The counter advance is atomic across
// processes: reload under the file lock, take the next integer, persist,
// release. A held lock degrades to a UUID rather than blocking an upload.
func (a *Allocator) Allocate() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var id int64
	ok, err := a.snap.TryUpdate(func(snap *jobstore.Snapshot) error {
		snap.NextAssessmentID++
		id = snap.NextAssessmentID
		return nil
	})
	if err != nil || !ok {
		fallback := uuid.NewString()
		logging.StoreWarn("monotonic id unavailable (ok=%v err=%v), using uuid %s", ok, err, fallback)
		return fallback
	}
	return strconv.FormatInt(id, 10)
}
