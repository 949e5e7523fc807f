package staking

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/ledger"
	"treasury-lens/internal/solana"
	"treasury-lens/internal/solana/stub"
)

const (
	owner     = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	position  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	delegateA = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	delegateB = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

func TestDistribute_ProportionalShares(t *testing.T) {
	stakes := Distribute([]DelegateStake{{Delegate: "a", Stake: 300}, {Delegate: "b", Stake: 700}}, 1000)

	require.Len(t, stakes, 2)
	assert.InDelta(t, 300.0, stakes[0].RewardShare, 1e-9)
	assert.InDelta(t, 700.0, stakes[1].RewardShare, 1e-9)
}

func TestDistribute_ZeroTotalStake(t *testing.T) {
	stakes := Distribute([]DelegateStake{{Delegate: "a"}, {Delegate: "b"}}, 1000)

	for _, s := range stakes {
		assert.Equal(t, 0.0, s.RewardShare)
	}
}

func TestDistribute_DoesNotMutateInput(t *testing.T) {
	in := []DelegateStake{{Delegate: "a", Stake: 1, RewardShare: 99}}
	Distribute(in, 10)
	assert.Equal(t, 99.0, in[0].RewardShare)
}

func TestDistribute_SharesReconcile(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(20)
		stakes := make([]DelegateStake, n)
		for j := range stakes {
			stakes[j].Stake = rng.Float64() * 1e7
		}
		claimable := rng.Float64() * 1e5

		out := Distribute(stakes, claimable)
		assert.True(t, Reconciles(out, claimable, 1e-6), "case %d: %d delegates, claimable %v", i, n, claimable)
	}
}

func TestByDelegate_MergesAndSorts(t *testing.T) {
	stakes, total := byDelegate([]Position{
		{Delegate: "a", Amount: 10},
		{Delegate: "b", Amount: 50},
		{Delegate: "a", Amount: 5},
		{Delegate: "c", Amount: 0},
	})

	assert.Equal(t, 65.0, total)
	require.Len(t, stakes, 2)
	assert.Equal(t, DelegateStake{Delegate: "b", Stake: 50}, stakes[0])
	assert.Equal(t, DelegateStake{Delegate: "a", Stake: 15}, stakes[1])
}

func pubkey(t *testing.T, addr string) []byte {
	t.Helper()
	b, err := base58.Decode(addr)
	require.NoError(t, err)
	require.Len(t, b, solana.PublicKeyLength)
	return b
}

func u64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func encodePositions(t *testing.T, ownerAddr string, entries ...Position) []byte {
	data := append(make([]byte, discriminatorLen), pubkey(t, ownerAddr)...)
	data = append(data, u32(uint32(len(entries)))...)
	for _, e := range entries {
		data = append(data, u64(uint64(e.Amount*1e6))...)
		data = append(data, pubkey(t, e.Delegate)...)
		data = append(data, u64(e.ActivationEpoch)...)
	}
	return data
}

func encodePool(t *testing.T, epoch uint64, delegates ...PoolDelegate) []byte {
	data := append(make([]byte, discriminatorLen), u64(epoch)...)
	data = append(data, u32(uint32(len(delegates)))...)
	for _, d := range delegates {
		data = append(data, pubkey(t, d.Delegate)...)
		data = append(data, u64(uint64(d.Stake*1e6))...)
	}
	return data
}

func newSource(t *testing.T, l *stub.Ledger) *RPCSource {
	src, err := NewRPCSource(l, nil, RPCSourceConfig{Decimals: 6})
	require.NoError(t, err)
	return src
}

func TestRPCSource_DerivedAddressesAreDistinct(t *testing.T) {
	src := newSource(t, stub.NewLedger())

	rewards, err := src.RewardsAddress(position)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, a := range []string{src.PoolAddress(), src.TargetAddress(), src.CustodyAddress(), rewards} {
		require.NoError(t, solana.ValidateAddress(a))
		assert.False(t, seen[a], "duplicate derived address %s", a)
		seen[a] = true
	}
}

func TestRPCSource_DecodesAccounts(t *testing.T) {
	l := stub.NewLedger()
	src := newSource(t, l)

	l.ProgramAccts[DefaultProgramID] = []ledger.ProgramAccount{{Address: position}}
	l.AccountData[position] = encodePositions(t, owner,
		Position{Delegate: delegateA, Amount: 1.5, ActivationEpoch: 3},
		Position{Delegate: delegateB, Amount: 2, ActivationEpoch: 4},
	)
	l.AccountData[src.PoolAddress()] = encodePool(t, 42, PoolDelegate{Delegate: delegateA, Stake: 1000})
	l.AccountData[src.TargetAddress()] = append(make([]byte, discriminatorLen), append(append(u64(5e6), u64(42)...), u64(1700000000)...)...)
	l.TokenAccts[src.CustodyAddress()] = ledger.TokenBalance{Amount: 77}
	rewardsAddr, err := src.RewardsAddress(position)
	require.NoError(t, err)
	l.AccountData[rewardsAddr] = append(make([]byte, discriminatorLen), append(u64(12_500_000), u64(41)...)...)

	ctx := context.Background()

	accts, err := src.PositionAccounts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{position}, accts)

	pos, err := src.Positions(ctx, position)
	require.NoError(t, err)
	assert.Equal(t, []Position{
		{Delegate: delegateA, Amount: 1.5, ActivationEpoch: 3},
		{Delegate: delegateB, Amount: 2, ActivationEpoch: 4},
	}, pos)

	pool, err := src.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pool.Epoch)
	assert.Equal(t, 1000.0, pool.TotalStake())

	target, err := src.Target(ctx)
	require.NoError(t, err)
	assert.Equal(t, TargetData{Locked: 5, Epoch: 42, LastUpdated: 1700000000}, target)

	custody, err := src.RewardCustody(ctx)
	require.NoError(t, err)
	assert.Equal(t, 77.0, custody)

	claimable, err := src.ClaimableRewards(ctx, position)
	require.NoError(t, err)
	assert.Equal(t, 12.5, claimable)
}

func TestRPCSource_MalformedPositions(t *testing.T) {
	l := stub.NewLedger()
	src := newSource(t, l)

	data := encodePositions(t, owner, Position{Delegate: delegateA, Amount: 1})
	l.AccountData[position] = data[:len(data)-1]

	_, err := src.Positions(context.Background(), position)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRPCSource_MissingRewardRecordIsZero(t *testing.T) {
	src := newSource(t, stub.NewLedger())

	claimable, err := src.ClaimableRewards(context.Background(), position)
	require.NoError(t, err)
	assert.Equal(t, 0.0, claimable)
}

func TestRPCSource_InvalidOwner(t *testing.T) {
	l := stub.NewLedger()
	_, err := newSource(t, l).PositionAccounts(context.Background(), "not-an-address")

	assert.Equal(t, fetch.KindInvalidInput, fetch.KindOf(err))
	assert.Equal(t, 0, l.Calls("GetProgramAccounts"))
}

// fakeSource serves fixed staking state with per-call errors.
type fakeSource struct {
	accounts  []string
	positions []Position
	pool      PoolData
	claimable float64
	errs      map[string]error
}

func (f *fakeSource) PositionAccounts(context.Context, string) ([]string, error) {
	return f.accounts, f.errs["accounts"]
}

func (f *fakeSource) Positions(context.Context, string) ([]Position, error) {
	return f.positions, f.errs["positions"]
}

func (f *fakeSource) Pool(context.Context) (PoolData, error) { return f.pool, f.errs["pool"] }

func (f *fakeSource) Target(context.Context) (TargetData, error) {
	return TargetData{Locked: 9}, f.errs["target"]
}

func (f *fakeSource) RewardCustody(context.Context) (float64, error) { return 5000, f.errs["custody"] }

func (f *fakeSource) ClaimableRewards(context.Context, string) (float64, error) {
	return f.claimable, f.errs["rewards"]
}

func TestAssembler_Info(t *testing.T) {
	src := &fakeSource{
		accounts:  []string{position, "second"},
		positions: []Position{{Delegate: "a", Amount: 300}, {Delegate: "b", Amount: 700}},
		pool:      PoolData{Epoch: 7, Delegates: []PoolDelegate{{Delegate: "a", Stake: 1e6}, {Delegate: "b", Stake: 2e6}}},
		claimable: 1000,
	}

	info, err := NewAssembler(src, zerolog.Nop()).Info(context.Background(), owner)
	require.NoError(t, err)

	assert.Equal(t, position, info.PositionAccount)
	assert.Equal(t, 1000.0, info.TotalStaked)
	assert.Equal(t, 1000.0, info.ClaimableRewards)
	require.Len(t, info.PerDelegateStake, 2)
	assert.InDelta(t, 700.0, info.PerDelegateStake[0].RewardShare, 1e-9)
	assert.InDelta(t, 300.0, info.PerDelegateStake[1].RewardShare, 1e-9)
	assert.Equal(t, GeneralStats{Epoch: 7, PoolDelegates: 2, PoolTotalStake: 3e6, TargetLocked: 9, RewardCustodyBalance: 5000}, info.GeneralStats)
}

func TestAssembler_RewardDataGapDefaultsToZero(t *testing.T) {
	src := &fakeSource{
		accounts:  []string{position},
		positions: []Position{{Delegate: "a", Amount: 10}},
		claimable: 123,
		errs:      map[string]error{"rewards": fetch.New(fetch.KindDataGap, "getAccountInfo", errors.New("slot was skipped"))},
	}

	info, err := NewAssembler(src, zerolog.Nop()).Info(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, 0.0, info.ClaimableRewards)
	assert.Equal(t, 0.0, info.PerDelegateStake[0].RewardShare)
	assert.Equal(t, 10.0, info.TotalStaked)
}

func TestAssembler_EnrichmentFailuresDegrade(t *testing.T) {
	unavailable := fetch.New(fetch.KindUnavailable, "getAccountInfo", errors.New("503"))
	src := &fakeSource{
		accounts:  []string{position},
		positions: []Position{{Delegate: "a", Amount: 10}},
		errs:      map[string]error{"pool": unavailable, "target": unavailable, "custody": unavailable},
	}

	info, err := NewAssembler(src, zerolog.Nop()).Info(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, GeneralStats{}, info.GeneralStats)
	assert.Equal(t, 10.0, info.TotalStaked)
}

func TestAssembler_PositionFailureIsFatal(t *testing.T) {
	src := &fakeSource{
		accounts: []string{position},
		errs:     map[string]error{"positions": fetch.New(fetch.KindNetwork, "getAccountInfo", errors.New("reset"))},
	}

	_, err := NewAssembler(src, zerolog.Nop()).Info(context.Background(), owner)
	require.Error(t, err)
	assert.Equal(t, fetch.KindNetwork, fetch.KindOf(err))
}

func TestAssembler_NoPositions(t *testing.T) {
	info, err := NewAssembler(&fakeSource{}, zerolog.Nop()).Info(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, info.PerDelegateStake)
	assert.Equal(t, 0.0, info.TotalStaked)
}
