package swaps

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/ledger"
	"treasury-lens/internal/solana/stub"
	"treasury-lens/internal/tokens"
)

const (
	owner     = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	other     = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	jupiterV6 = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func swapDetail(sig string, slot int64, at *int64) *ledger.TransactionDetail {
	return &ledger.TransactionDetail{
		Signature:  sig,
		Slot:       slot,
		BlockTime:  at,
		Success:    true,
		FeePayer:   owner,
		Fee:        0.000005,
		ProgramIDs: []string{jupiterV6},
		Deltas: []ledger.BalanceDelta{
			{Owner: owner, Native: true, Change: -0.000005},
			{Owner: owner, Mint: tokens.USDCMint, Change: -25},
			{Owner: owner, Mint: tokens.PYTHMint, Change: 100},
			{Owner: other, Mint: tokens.PYTHMint, Change: -100},
		},
	}
}

func newAssembler(l ledger.Client, cfg Config) *Assembler {
	a := NewAssembler(l, tokens.Default(), cfg, zerolog.Nop())
	a.now = func() time.Time { return now }
	return a
}

func TestExtract_StablecoinIntoTracked(t *testing.T) {
	tx, ok := Extract(swapDetail("s1", 10, nil), owner, tokens.Default())

	require.True(t, ok)
	assert.Equal(t, tokens.USDCMint, tx.InputMint)
	assert.Equal(t, "USDC", tx.InputSymbol)
	assert.Equal(t, 25.0, tx.InputAmount)
	assert.Equal(t, tokens.PYTHMint, tx.OutputMint)
	assert.Equal(t, 100.0, tx.OutputAmount)
}

func TestExtract_FeeAddedBackAndWrappedNativeMerged(t *testing.T) {
	detail := &ledger.TransactionDetail{
		Signature: "s2",
		Success:   true,
		FeePayer:  owner,
		Fee:       0.000005,
		Deltas: []ledger.BalanceDelta{
			{Owner: owner, Native: true, Change: -1.000005},
			{Owner: owner, Mint: tokens.WrappedSOLMint, Change: -0.5},
			{Owner: owner, Mint: tokens.PYTHMint, Change: 1000},
		},
	}

	tx, ok := Extract(detail, owner, tokens.Default())
	require.True(t, ok)
	assert.Equal(t, tokens.WrappedSOLMint, tx.InputMint)
	assert.Equal(t, "SOL", tx.InputSymbol)
	assert.InDelta(t, 1.5, tx.InputAmount, 1e-12)
}

func TestExtract_FeeOnlyIsNotASwap(t *testing.T) {
	detail := &ledger.TransactionDetail{
		Success:  true,
		FeePayer: owner,
		Fee:      0.000005,
		Deltas: []ledger.BalanceDelta{
			{Owner: owner, Native: true, Change: -0.000005},
			{Owner: owner, Mint: tokens.PYTHMint, Change: 10},
		},
	}

	_, ok := Extract(detail, owner, tokens.Default())
	assert.False(t, ok, "an airdrop paid only by fees has no input asset")
}

func TestExtract_TrackedOutflowIsNotASwap(t *testing.T) {
	detail := &ledger.TransactionDetail{
		Success: true,
		Deltas: []ledger.BalanceDelta{
			{Owner: owner, Mint: tokens.PYTHMint, Change: -10},
			{Owner: owner, Mint: tokens.USDCMint, Change: 3},
		},
	}

	_, ok := Extract(detail, owner, tokens.Default())
	assert.False(t, ok)
}

func TestExtract_LargestOutflowIsInput(t *testing.T) {
	detail := &ledger.TransactionDetail{
		Success: true,
		Deltas: []ledger.BalanceDelta{
			{Owner: owner, Mint: tokens.USDCMint, Change: -5},
			{Owner: owner, Mint: tokens.JUPMint, Change: -40},
			{Owner: owner, Mint: tokens.PYTHMint, Change: 80},
		},
	}

	tx, ok := Extract(detail, owner, tokens.Default())
	require.True(t, ok)
	assert.Equal(t, tokens.JUPMint, tx.InputMint)
	assert.Equal(t, 40.0, tx.InputAmount)
}

func TestResolveTimestamp_PriorityChain(t *testing.T) {
	recent := unix(now.Add(-time.Hour))
	older := unix(now.Add(-48 * time.Hour))
	future := unix(now.Add(time.Hour))
	ancient := unix(now.Add(-400 * 24 * time.Hour))

	tests := []struct {
		name                      string
		queried, embedded, listed *int64
		want                      *int64
	}{
		{"queried wins", recent, older, older, recent},
		{"future queried falls to embedded", future, older, recent, older},
		{"ancient embedded falls to listed", nil, ancient, recent, recent},
		{"nothing valid", future, ancient, nil, nil},
		{"all missing", nil, nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveTimestamp(now, DefaultMaxAge, tt.queried, tt.embedded, tt.listed)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, *tt.want, got.Unix())
		})
	}
}

func TestHistory_KeepsNewestSwapsSortedDescending(t *testing.T) {
	l := stub.NewLedger()
	var sigs []ledger.Signature
	for i := 0; i < 15; i++ {
		sig := fmt.Sprintf("sig%02d", i)
		at := unix(now.Add(-time.Duration(i+1) * time.Hour))
		sigs = append(sigs, ledger.Signature{Signature: sig, Slot: int64(1000 - i)})
		l.Details[sig] = swapDetail(sig, int64(1000-i), at)
	}
	l.Signatures[owner] = sigs

	history, err := newAssembler(l, Config{}).History(context.Background(), owner)
	require.NoError(t, err)

	require.Len(t, history, DefaultKeep)
	for i, tx := range history {
		assert.Equal(t, fmt.Sprintf("sig%02d", i), tx.Signature)
		if i > 0 {
			assert.True(t, history[i-1].Timestamp.After(tx.Timestamp))
		}
	}
}

func TestHistory_DiscardsUntrustedAndNonSwaps(t *testing.T) {
	l := stub.NewLedger()
	l.Signatures[owner] = []ledger.Signature{
		{Signature: "good", Slot: 1},
		{Signature: "no-time", Slot: 2},
		{Signature: "listed-time", Slot: 3, BlockTime: unix(now.Add(-3 * time.Hour))},
		{Signature: "failed", Slot: 4, Failed: true},
		{Signature: "transfer", Slot: 5},
		{Signature: "missing", Slot: 6},
	}
	l.Details["good"] = swapDetail("good", 1, unix(now.Add(-time.Hour)))
	l.Details["no-time"] = swapDetail("no-time", 2, unix(now.Add(2*time.Hour)))
	l.Details["listed-time"] = swapDetail("listed-time", 3, nil)
	l.Details["failed"] = swapDetail("failed", 4, unix(now))
	l.Details["transfer"] = &ledger.TransactionDetail{
		Signature: "transfer", Slot: 5, Success: true, BlockTime: unix(now),
		Deltas: []ledger.BalanceDelta{{Owner: owner, Mint: tokens.PYTHMint, Change: 5}},
	}
	l.BlockTimes[2] = now.Add(time.Hour).Unix()

	history, err := newAssembler(l, Config{}).History(context.Background(), owner)
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Equal(t, "good", history[0].Signature)
	assert.Equal(t, "listed-time", history[1].Signature)
	assert.Equal(t, 5, l.Calls("GetTransactionDetail"), "failed signatures are not fetched")
}

func TestHistory_ProgramAllowList(t *testing.T) {
	l := stub.NewLedger()
	l.Signatures[owner] = []ledger.Signature{{Signature: "s", Slot: 1}}
	l.Details["s"] = swapDetail("s", 1, unix(now.Add(-time.Minute)))

	history, err := newAssembler(l, Config{Programs: []string{"SomeOtherProgram1111111111111111111111111"}}).History(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = newAssembler(l, Config{Programs: []string{jupiterV6}}).History(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistory_SignatureFailurePropagates(t *testing.T) {
	l := stub.NewLedger()
	l.Fail("GetRecentSignatures", fetch.New(fetch.KindRateLimited, "getSignaturesForAddress", errors.New("429")))

	_, err := newAssembler(l, Config{}).History(context.Background(), owner)
	assert.Equal(t, fetch.KindRateLimited, fetch.KindOf(err))
}

func TestHistory_InvalidAddress(t *testing.T) {
	l := stub.NewLedger()
	_, err := newAssembler(l, Config{}).History(context.Background(), "bad")

	assert.Equal(t, fetch.KindInvalidInput, fetch.KindOf(err))
	assert.Equal(t, 0, l.Calls("GetRecentSignatures"))
}

// cancelingLedger cancels the caller's context on the first detail fetch.
type cancelingLedger struct {
	*stub.Ledger
	cancel context.CancelFunc
}

func (l *cancelingLedger) GetTransactionDetail(ctx context.Context, signature string) (*ledger.TransactionDetail, error) {
	l.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHistory_CancellationFailsInsteadOfReturningPartialHistory(t *testing.T) {
	l := stub.NewLedger()
	l.Signatures[owner] = []ledger.Signature{{Signature: "a", Slot: 1}, {Signature: "b", Slot: 2}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := newAssembler(&cancelingLedger{Ledger: l, cancel: cancel}, Config{}).History(ctx, owner)
	assert.ErrorIs(t, err, context.Canceled)
}
