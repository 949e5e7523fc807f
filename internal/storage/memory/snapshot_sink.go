package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"treasury-lens/internal/storage"
)

// SnapshotSink is an in-memory implementation of storage.SnapshotSink.
type SnapshotSink struct {
	mu       sync.RWMutex
	byBucket map[string]storage.SnapshotPoint
	now      func() time.Time
}

// Compile-time interface check.
var _ storage.SnapshotSink = (*SnapshotSink)(nil)

// NewSnapshotSink creates a new in-memory snapshot sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{
		byBucket: make(map[string]storage.SnapshotPoint),
		now:      time.Now,
	}
}

// Upsert writes p, replacing any point of the same bucket.
func (s *SnapshotSink) Upsert(_ context.Context, p storage.SnapshotPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byBucket[p.Bucket] = p
	return nil
}

// QueryRange returns points at or after from, ordered by time ASC.
func (s *SnapshotSink) QueryRange(_ context.Context, from time.Time) ([]storage.SnapshotPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.SnapshotPoint
	for _, p := range s.byBucket {
		if !p.Time.Before(from) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Time.Before(result[j].Time)
	})
	return result, nil
}

// Count returns the number of stored buckets.
func (s *SnapshotSink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byBucket)
}
