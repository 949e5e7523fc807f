package storage

import (
	"context"
	"fmt"
	"time"
)

// SnapshotPoint is one hourly sample of the aggregate dashboard figures.
type SnapshotPoint struct {
	// Bucket is the hour key, e.g. "2026-10-14T13". One row per bucket.
	Bucket       string    `json:"bucket"`
	Time         time.Time `json:"time"`
	ReserveValue float64   `json:"reserve_value"`
	TrackedHeld  float64   `json:"tracked_held"`
	TotalStaked  float64   `json:"total_staked"`
	NativePrice  float64   `json:"native_price"`
	TrackedPrice float64   `json:"tracked_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// bucketLayout formats hour bucket keys.
const bucketLayout = "2006-01-02T15"

// HourBucket returns the bucket key of t and the start of its hour, in UTC.
func HourBucket(t time.Time) (string, time.Time) {
	start := t.UTC().Truncate(time.Hour)
	return start.Format(bucketLayout), start
}

// Validate checks that p has a bucket and a time.
func (p SnapshotPoint) Validate() error {
	if p.Bucket == "" || p.Time.IsZero() {
		return fmt.Errorf("%w: snapshot point needs a bucket and a time", ErrInvalidInput)
	}
	return nil
}

// Wallet is a saved address the user follows.
type Wallet struct {
	Address string    `json:"address"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// ValidateWallets rejects empty and repeated addresses.
func ValidateWallets(ws []Wallet) error {
	seen := make(map[string]bool, len(ws))
	for _, w := range ws {
		if w.Address == "" {
			return fmt.Errorf("%w: wallet without address", ErrInvalidInput)
		}
		if seen[w.Address] {
			return fmt.Errorf("%w: wallet %s", ErrDuplicateKey, w.Address)
		}
		seen[w.Address] = true
	}
	return nil
}

// SnapshotSink stores snapshot points.
type SnapshotSink interface {
	// Upsert writes p, replacing any point of the same bucket.
	Upsert(ctx context.Context, p SnapshotPoint) error

	// QueryRange returns points at or after from, ordered by time ASC.
	QueryRange(ctx context.Context, from time.Time) ([]SnapshotPoint, error)
}

// WalletStore persists the saved wallet list.
type WalletStore interface {
	// Load returns the saved list, or nil when nothing was ever saved.
	Load(ctx context.Context) ([]Wallet, error)

	// Save replaces the list. Returns ErrDuplicateKey on repeated addresses.
	Save(ctx context.Context, wallets []Wallet) error

	// Subscribe delivers the list after every Save until ctx is done, then
	// closes the channel.
	Subscribe(ctx context.Context) (<-chan []Wallet, error)
}
