// Package swaps reconstructs an address's recent swaps into the tracked
// asset from ledger balance deltas.
package swaps

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"treasury-lens/internal/ledger"
	"treasury-lens/internal/solana"
	"treasury-lens/internal/tokens"
)

const (
	DefaultSignatureLimit = 50
	DefaultKeep           = 10
	DefaultWorkers        = 8
	DefaultMaxAge         = 365 * 24 * time.Hour
)

// Transaction is a swap of some asset into the tracked asset.
type Transaction struct {
	Signature    string    `json:"signature"`
	Slot         int64     `json:"slot"`
	Timestamp    time.Time `json:"timestamp"`
	InputMint    string    `json:"input_mint"`
	InputSymbol  string    `json:"input_symbol"`
	InputAmount  float64   `json:"input_amount"`
	OutputMint   string    `json:"output_mint"`
	OutputSymbol string    `json:"output_symbol"`
	OutputAmount float64   `json:"output_amount"`
}

// Config tunes history assembly. Zero values take the defaults.
type Config struct {
	SignatureLimit int
	Keep           int
	Workers        int
	MaxAge         time.Duration
	// Programs restricts swaps to transactions invoking one of these
	// programs. Empty accepts any program.
	Programs []string
}

func (c Config) withDefaults() Config {
	if c.SignatureLimit <= 0 {
		c.SignatureLimit = DefaultSignatureLimit
	}
	if c.Keep <= 0 {
		c.Keep = DefaultKeep
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Assembler builds swap histories.
type Assembler struct {
	ledger   ledger.Client
	registry *tokens.Registry
	cfg      Config
	programs map[string]bool
	logger   zerolog.Logger
	now      func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(l ledger.Client, registry *tokens.Registry, cfg Config, logger zerolog.Logger) *Assembler {
	cfg = cfg.withDefaults()
	a := &Assembler{ledger: l, registry: registry, cfg: cfg, logger: logger, now: time.Now}
	if len(cfg.Programs) > 0 {
		a.programs = make(map[string]bool, len(cfg.Programs))
		for _, p := range cfg.Programs {
			a.programs[p] = true
		}
	}
	return a
}

// History returns the newest swaps of address into the tracked asset,
// newest first. Transactions that cannot be fetched, are not swaps, or lack
// a trustworthy timestamp are left out.
func (a *Assembler) History(ctx context.Context, address string) ([]Transaction, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, err
	}

	sigs, err := a.ledger.GetRecentSignatures(ctx, address, a.cfg.SignatureLimit)
	if err != nil {
		return nil, fmt.Errorf("signatures of %s: %w", address, err)
	}
	if len(sigs) > a.cfg.SignatureLimit {
		sigs = sigs[:a.cfg.SignatureLimit]
	}

	now := a.now()
	results := make([]*Transaction, len(sigs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, sig := range sigs {
		if sig.Failed {
			continue
		}
		g.Go(func() error {
			tx, err := a.parseSignature(gctx, address, sig, now)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Debug().Str("signature", sig.Signature).Err(err).Msg("skipping transaction")
				return nil
			}
			results[i] = tx
			return nil
		})
	}
	// Only cancellation fails the group; other per-transaction errors are skipped.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, a.cfg.Keep)
	for _, tx := range results {
		if tx != nil {
			out = append(out, *tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > a.cfg.Keep {
		out = out[:a.cfg.Keep]
	}
	return out, nil
}

// parseSignature returns nil, nil for a transaction that is not a swap.
func (a *Assembler) parseSignature(ctx context.Context, owner string, sig ledger.Signature, now time.Time) (*Transaction, error) {
	detail, err := a.ledger.GetTransactionDetail(ctx, sig.Signature)
	if err != nil {
		return nil, err
	}
	if !detail.Success || !a.programAllowed(detail.ProgramIDs) {
		return nil, nil
	}

	tx, ok := Extract(detail, owner, a.registry)
	if !ok {
		return nil, nil
	}

	slot := detail.Slot
	if slot == 0 {
		slot = sig.Slot
	}
	queried, err := a.ledger.GetBlockTime(ctx, slot)
	if err != nil {
		a.logger.Debug().Int64("slot", slot).Err(err).Msg("block time unavailable")
		queried = nil
	}

	ts, ok := ResolveTimestamp(now, a.cfg.MaxAge, queried, detail.BlockTime, sig.BlockTime)
	if !ok {
		return nil, nil
	}
	tx.Timestamp = ts
	return &tx, nil
}

func (a *Assembler) programAllowed(ids []string) bool {
	if a.programs == nil {
		return true
	}
	for _, id := range ids {
		if a.programs[id] {
			return true
		}
	}
	return false
}

// ResolveTimestamp returns the first candidate, in order, that falls within
// [now-maxAge, now].
func ResolveTimestamp(now time.Time, maxAge time.Duration, candidates ...*int64) (time.Time, bool) {
	oldest := now.Add(-maxAge)
	for _, c := range candidates {
		if c == nil {
			continue
		}
		t := time.Unix(*c, 0).UTC()
		if t.After(now) || t.Before(oldest) {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// Extract derives a swap from the owner's net balance changes. The native
// asset and its wrapped mint count as one asset, and the fee is added back
// when the owner paid it. The transaction is a swap when the tracked asset
// increased and some other asset decreased; the largest decrease is the input.
func Extract(detail *ledger.TransactionDetail, owner string, registry *tokens.Registry) (Transaction, bool) {
	native := registry.Native().Mint
	changes := make(map[string]float64)
	for _, d := range detail.Deltas {
		if d.Owner != owner {
			continue
		}
		key := d.Mint
		if d.Native || registry.IsWrappedNative(d.Mint) {
			key = native
		}
		changes[key] += d.Change
	}
	if detail.FeePayer == owner && detail.Fee > 0 {
		changes[native] += detail.Fee
	}

	tracked := registry.Tracked()
	inflow := changes[tracked.Mint]
	if inflow <= 0 {
		return Transaction{}, false
	}

	var input string
	var outflow float64
	for mint, c := range changes {
		if mint == tracked.Mint || c >= 0 {
			continue
		}
		if -c > outflow || (-c == outflow && mint < input) {
			input, outflow = mint, -c
		}
	}
	if outflow <= 0 {
		return Transaction{}, false
	}

	return Transaction{
		Signature:    detail.Signature,
		Slot:         detail.Slot,
		InputMint:    input,
		InputSymbol:  registry.DisplaySymbol(input),
		InputAmount:  outflow,
		OutputMint:   tracked.Mint,
		OutputSymbol: tracked.Symbol,
		OutputAmount: inflow,
	}, true
}
