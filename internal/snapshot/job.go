// Package snapshot records hourly aggregate figures of the dashboard.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/observability"
	"treasury-lens/internal/reserve"
	"treasury-lens/internal/staking"
	"treasury-lens/internal/storage"
	"treasury-lens/internal/tokens"
)

// DefaultInterval is the tick period of Run.
const DefaultInterval = time.Hour

// ErrRunning is returned by RunOnce while another run is in progress.
var ErrRunning = errors.New("snapshot run already in progress")

// ReserveReader serves the reserve summary.
type ReserveReader interface {
	ReserveSummary(ctx context.Context) (reserve.Summary, error)
}

// StakingReader serves staking views.
type StakingReader interface {
	StakingInfo(ctx context.Context, owner string) (staking.Info, error)
}

// JobOptions contains configuration for creating a Job.
type JobOptions struct {
	Reserve  ReserveReader
	Staking  StakingReader
	Wallets  storage.WalletStore
	Sink     storage.SnapshotSink
	Registry *tokens.Registry
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Job writes one snapshot point per hour bucket.
type Job struct {
	reserve  ReserveReader
	staking  StakingReader
	wallets  storage.WalletStore
	sink     storage.SnapshotSink
	registry *tokens.Registry
	logger   zerolog.Logger
	now      func() time.Time
	running  atomic.Bool
}

// NewJob creates a Job.
func NewJob(opts JobOptions) *Job {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	registry := opts.Registry
	if registry == nil {
		registry = tokens.Default()
	}
	return &Job{
		reserve:  opts.Reserve,
		staking:  opts.Staking,
		wallets:  opts.Wallets,
		sink:     opts.Sink,
		registry: registry,
		logger:   opts.Logger,
		now:      now,
	}
}

// RunOnce computes the current figures and upserts the bucket of now.
// It returns ErrRunning without doing anything if a run is in progress.
func (j *Job) RunOnce(ctx context.Context) (storage.SnapshotPoint, error) {
	if !j.running.CompareAndSwap(false, true) {
		return storage.SnapshotPoint{}, ErrRunning
	}
	defer j.running.Store(false)

	start := time.Now()
	p, err := j.collect(ctx)
	if err == nil {
		err = j.sink.Upsert(ctx, p)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordSnapshotRun(status, time.Since(start).Seconds())
	if err != nil {
		return storage.SnapshotPoint{}, fmt.Errorf("snapshot %s: %w", p.Bucket, err)
	}

	observability.RecordSnapshotSuccess(p.UpdatedAt.Unix())
	j.logger.Info().
		Str("bucket", p.Bucket).
		Float64("reserve_value", p.ReserveValue).
		Float64("total_staked", p.TotalStaked).
		Msg("snapshot written")
	return p, nil
}

func (j *Job) collect(ctx context.Context) (storage.SnapshotPoint, error) {
	now := j.now()
	bucket, at := storage.HourBucket(now)
	p := storage.SnapshotPoint{Bucket: bucket, Time: at, UpdatedAt: now.UTC()}

	sum, err := j.reserve.ReserveSummary(ctx)
	if err != nil {
		return p, fmt.Errorf("reserve summary: %w", err)
	}
	p.ReserveValue = sum.TotalReserveValue
	p.TrackedHeld = sum.TotalHeldOfTrackedAsset
	p.NativePrice = sum.Prices[j.registry.Native().Symbol].Price
	p.TrackedPrice = sum.Prices[j.registry.Tracked().Symbol].Price

	staked, err := j.totalStaked(ctx)
	if err != nil {
		return p, err
	}
	p.TotalStaked = staked
	return p, nil
}

// totalStaked sums the staked amount of every saved wallet. Wallets whose
// staking view fails are left out of the sum.
func (j *Job) totalStaked(ctx context.Context) (float64, error) {
	if j.wallets == nil || j.staking == nil {
		return 0, nil
	}
	wallets, err := j.wallets.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load wallets: %w", err)
	}

	var total float64
	for _, w := range wallets {
		info, err := j.staking.StakingInfo(ctx, w.Address)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			j.logger.Warn().Str("wallet", w.Address).Err(err).Msg("staking view unavailable, wallet left out")
			continue
		}
		total += info.TotalStaked
	}
	return total, nil
}

// Run calls RunOnce immediately and then every interval until ctx is done.
// A tick that lands on a run still in progress is skipped.
func (j *Job) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	j.logger.Info().Dur("interval", interval).Msg("snapshot job started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		go j.tick(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info().Msg("snapshot job stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (j *Job) tick(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrRunning) {
			j.logger.Debug().Msg("previous snapshot still running, tick skipped")
			return
		}
		if ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("snapshot failed")
		}
	}
}
