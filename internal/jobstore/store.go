// Package jobstore is the durable job-state medium shared by workers and
// readers: a key-value Store interface with in-memory and Redis
// implementations, plus the on-disk snapshot checkpoint that survives a
// store wipe.
package jobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Update when the key is absent or
// expired.
var ErrNotFound = errors.New("job record not found")

// AssessmentKey builds the store key of an assessment record.
func AssessmentKey(id string) string { return "assessment:" + id }

// BatchKey builds the store key of a batch record.
func BatchKey(id string) string { return "batch:" + id }

// Store is the durable map of job records. Values are opaque JSON blobs;
// every writer does a full replace (last writer wins), never a field-level
// overlay. Writes within a process are serialized per key by the
// implementation; cross-process writers rely on the full-replace contract.
type Store interface {
	// Put stores value under key with a TTL. A zero TTL means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMulti fetches many keys in one round trip where the backend
	// allows. Missing keys are absent from the result, not errors.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	// Update applies a read-modify-write patch under the per-key lock and
	// refreshes the TTL. The patch sees the current value (nil if absent
	// is an error: ErrNotFound).
	Update(ctx context.Context, key string, ttl time.Duration, patch func([]byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
	DeleteMulti(ctx context.Context, keys []string) error
	// List returns keys with the prefix. Operational scans only.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
