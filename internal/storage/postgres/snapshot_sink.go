package postgres

import (
	"context"
	"fmt"
	"time"

	"treasury-lens/internal/storage"
)

// SnapshotSink is a PostgreSQL implementation of storage.SnapshotSink.
type SnapshotSink struct {
	pool *Pool
}

// Compile-time interface check.
var _ storage.SnapshotSink = (*SnapshotSink)(nil)

// NewSnapshotSink creates a new PostgreSQL snapshot sink.
func NewSnapshotSink(pool *Pool) *SnapshotSink {
	return &SnapshotSink{pool: pool}
}

// Upsert writes p, replacing any point of the same bucket.
func (s *SnapshotSink) Upsert(ctx context.Context, p storage.SnapshotPoint) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	start := time.Now()
	defer func() { observe("snapshot_upsert", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshots (
			bucket, bucket_time, reserve_value, tracked_held, total_staked,
			native_price, tracked_price, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (bucket) DO UPDATE
		SET bucket_time = EXCLUDED.bucket_time,
		    reserve_value = EXCLUDED.reserve_value,
		    tracked_held = EXCLUDED.tracked_held,
		    total_staked = EXCLUDED.total_staked,
		    native_price = EXCLUDED.native_price,
		    tracked_price = EXCLUDED.tracked_price,
		    updated_at = EXCLUDED.updated_at
	`, p.Bucket, p.Time.UTC(), p.ReserveValue, p.TrackedHeld, p.TotalStaked,
		p.NativePrice, p.TrackedPrice, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", p.Bucket, err)
	}
	return nil
}

// QueryRange returns points at or after from, ordered by time ASC.
func (s *SnapshotSink) QueryRange(ctx context.Context, from time.Time) (_ []storage.SnapshotPoint, err error) {
	start := time.Now()
	defer func() { observe("snapshot_range", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT bucket, bucket_time, reserve_value, tracked_held, total_staked,
		       native_price, tracked_price, updated_at
		FROM snapshots
		WHERE bucket_time >= $1
		ORDER BY bucket_time ASC
	`, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []storage.SnapshotPoint
	for rows.Next() {
		var p storage.SnapshotPoint
		if err := rows.Scan(
			&p.Bucket, &p.Time, &p.ReserveValue, &p.TrackedHeld, &p.TotalStaked,
			&p.NativePrice, &p.TrackedPrice, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		p.Time = p.Time.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		result = append(result, p)
	}
	return result, rows.Err()
}
