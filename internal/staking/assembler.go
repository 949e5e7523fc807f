package staking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/solana"
)

// Assembler builds staking views from a Source.
type Assembler struct {
	source Source
	logger zerolog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(source Source, logger zerolog.Logger) *Assembler {
	return &Assembler{source: source, logger: logger}
}

// Info assembles the staking view of owner from its first position account.
// The position list is required; pool, target, custody and rewards only
// enrich the result and fall back to zero.
func (a *Assembler) Info(ctx context.Context, owner string) (Info, error) {
	if err := solana.ValidateAddress(owner); err != nil {
		return Info{}, err
	}

	accounts, err := a.source.PositionAccounts(ctx, owner)
	if err != nil {
		return Info{}, err
	}
	info := Info{Owner: owner, PerDelegateStake: []DelegateStake{}}
	if len(accounts) == 0 {
		return info, nil
	}
	info.PositionAccount = accounts[0]

	var g fetch.Group
	pool := fetch.Spawn(ctx, &g, a.source.Pool)
	target := fetch.Spawn(ctx, &g, a.source.Target)
	custody := fetch.Spawn(ctx, &g, a.source.RewardCustody)
	positions := fetch.Spawn(ctx, &g, func(ctx context.Context) ([]Position, error) {
		return a.source.Positions(ctx, info.PositionAccount)
	})
	rewards := fetch.Spawn(ctx, &g, func(ctx context.Context) (float64, error) {
		return a.source.ClaimableRewards(ctx, info.PositionAccount)
	})
	g.Wait()

	pos, err := positions.Result()
	if err != nil {
		return Info{}, fmt.Errorf("staking positions of %s: %w", owner, err)
	}

	if err := rewards.Err(); err != nil {
		ev := a.logger.Warn()
		if fetch.KindOf(err) == fetch.KindDataGap {
			ev = a.logger.Debug()
		}
		ev.Str("position", info.PositionAccount).Err(err).Msg("claimable rewards unavailable, using 0")
	}
	info.ClaimableRewards = rewards.Or(0)

	p := pool.Or(PoolData{})
	t := target.Or(TargetData{})
	for name, err := range map[string]error{"pool": pool.Err(), "target": target.Err(), "custody": custody.Err()} {
		if err != nil {
			a.logger.Warn().Str("owner", owner).Str("source", name).Err(err).Msg("staking enrichment failed")
		}
	}
	info.GeneralStats = GeneralStats{
		Epoch:                p.Epoch,
		PoolDelegates:        len(p.Delegates),
		PoolTotalStake:       p.TotalStake(),
		TargetLocked:         t.Locked,
		RewardCustodyBalance: custody.Or(0),
	}

	stakes, total := byDelegate(pos)
	info.TotalStaked = total
	info.PerDelegateStake = Distribute(stakes, info.ClaimableRewards)
	return info, nil
}
