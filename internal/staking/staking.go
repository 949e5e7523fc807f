// Package staking assembles an owner's staking position and splits the
// claimable reward pool across the delegates the owner staked with.
package staking

import (
	"context"
	"math"
	"sort"
)

// DelegateStake is the owner's stake assigned to one delegate.
type DelegateStake struct {
	Delegate    string  `json:"delegate"`
	Stake       float64 `json:"stake"`
	RewardShare float64 `json:"reward_share"`
}

// GeneralStats are pool-wide figures shown next to the position.
type GeneralStats struct {
	Epoch                uint64  `json:"epoch"`
	PoolDelegates        int     `json:"pool_delegates"`
	PoolTotalStake       float64 `json:"pool_total_stake"`
	TargetLocked         float64 `json:"target_locked"`
	RewardCustodyBalance float64 `json:"reward_custody_balance"`
}

// Info is the staking view of one owner.
type Info struct {
	Owner            string          `json:"owner"`
	PositionAccount  string          `json:"position_account,omitempty"`
	PerDelegateStake []DelegateStake `json:"per_delegate_stake"`
	TotalStaked      float64         `json:"total_staked"`
	ClaimableRewards float64         `json:"claimable_rewards"`
	GeneralStats     GeneralStats    `json:"general_stats"`
}

// Position is one stake entry of a position account.
type Position struct {
	Delegate        string
	Amount          float64
	ActivationEpoch uint64
}

// PoolDelegate is a delegate's total stake across all owners.
type PoolDelegate struct {
	Delegate string
	Stake    float64
}

// PoolData is the staking pool account.
type PoolData struct {
	Epoch     uint64
	Delegates []PoolDelegate
}

// TotalStake sums every delegate's stake.
func (p PoolData) TotalStake() float64 {
	var total float64
	for _, d := range p.Delegates {
		total += d.Stake
	}
	return total
}

// TargetData is the governance target account.
type TargetData struct {
	Locked      float64
	Epoch       uint64
	LastUpdated int64
}

// Source reads raw staking state. Implementations tag errors with fetch kinds.
type Source interface {
	// PositionAccounts lists the position accounts owned by owner.
	PositionAccounts(ctx context.Context, owner string) ([]string, error)
	// Positions decodes the stake entries of one position account.
	Positions(ctx context.Context, account string) ([]Position, error)
	Pool(ctx context.Context) (PoolData, error)
	Target(ctx context.Context) (TargetData, error)
	RewardCustody(ctx context.Context) (float64, error)
	// ClaimableRewards returns the unclaimed rewards of a position account.
	ClaimableRewards(ctx context.Context, account string) (float64, error)
}

// Distribute splits claimable across stakes in proportion to stake.
// When the total stake is not positive every share is zero.
func Distribute(stakes []DelegateStake, claimable float64) []DelegateStake {
	out := make([]DelegateStake, len(stakes))
	copy(out, stakes)

	var total float64
	for _, s := range out {
		total += s.Stake
	}
	for i := range out {
		out[i].RewardShare = 0
		if total > 0 {
			out[i].RewardShare = out[i].Stake / total * claimable
		}
	}
	return out
}

// Reconciles reports whether the shares sum to claimable within a relative
// tolerance of tol.
func Reconciles(stakes []DelegateStake, claimable, tol float64) bool {
	var sum float64
	for _, s := range stakes {
		sum += s.RewardShare
	}
	if claimable == 0 {
		return sum == 0
	}
	return math.Abs(sum-claimable) <= tol*math.Abs(claimable)
}

// byDelegate merges positions into one stake per delegate, largest first.
func byDelegate(positions []Position) ([]DelegateStake, float64) {
	idx := make(map[string]int)
	var stakes []DelegateStake
	var total float64
	for _, p := range positions {
		if p.Amount <= 0 {
			continue
		}
		total += p.Amount
		if i, ok := idx[p.Delegate]; ok {
			stakes[i].Stake += p.Amount
			continue
		}
		idx[p.Delegate] = len(stakes)
		stakes = append(stakes, DelegateStake{Delegate: p.Delegate, Stake: p.Amount})
	}
	sort.SliceStable(stakes, func(i, j int) bool {
		if stakes[i].Stake != stakes[j].Stake {
			return stakes[i].Stake > stakes[j].Stake
		}
		return stakes[i].Delegate < stakes[j].Delegate
	})
	return stakes, total
}
