package clickhouse

import (
	"context"
	"fmt"
	"time"

	"treasury-lens/internal/storage"
)

// SnapshotSink implements storage.SnapshotSink using ClickHouse. Rows of the
// same bucket are collapsed by ReplacingMergeTree(updated_at) and read with
// FINAL, so the latest write of a bucket wins.
type SnapshotSink struct {
	conn *Conn
	now  func() time.Time
}

// Compile-time interface check.
var _ storage.SnapshotSink = (*SnapshotSink)(nil)

// NewSnapshotSink creates a new SnapshotSink.
func NewSnapshotSink(conn *Conn) *SnapshotSink {
	return &SnapshotSink{conn: conn, now: time.Now}
}

// Upsert inserts p as the newest version of its bucket.
func (s *SnapshotSink) Upsert(ctx context.Context, p storage.SnapshotPoint) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	start := time.Now()
	defer func() { observe("snapshot_upsert", start, err) }()

	err = s.conn.Exec(ctx, `
		INSERT INTO snapshots (
			bucket, bucket_time, reserve_value, tracked_held, total_staked,
			native_price, tracked_price, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Bucket, p.Time.UTC(), p.ReserveValue, p.TrackedHeld, p.TotalStaked,
		p.NativePrice, p.TrackedPrice, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", p.Bucket, err)
	}
	return nil
}

// QueryRange returns points at or after from, ordered by time ASC.
func (s *SnapshotSink) QueryRange(ctx context.Context, from time.Time) (_ []storage.SnapshotPoint, err error) {
	start := time.Now()
	defer func() { observe("snapshot_range", start, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT bucket, bucket_time, reserve_value, tracked_held, total_staked,
		       native_price, tracked_price, updated_at
		FROM snapshots FINAL
		WHERE bucket_time >= ?
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
