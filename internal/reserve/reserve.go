// Package reserve values treasury accounts and reconciles them into a
// reserve summary whose total always equals the sum of its line items.
package reserve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/ledger"
	"treasury-lens/internal/price"
	"treasury-lens/internal/tokens"
)

// Account is a treasury account to value.
type Account struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	// DAO accounts only show allow-listed tokens in the summary.
	DAO bool `json:"dao"`
}

// TokenBalance is a deduplicated holding of one mint.
type TokenBalance struct {
	Mint     string   `json:"mint"`
	Symbol   string   `json:"symbol"`
	Amount   float64  `json:"amount"`
	Decimals uint8    `json:"decimals"`
	USDValue *float64 `json:"usd_value,omitempty"`
}

// AccountSnapshot is a point-in-time valuation of one account. NativeBalance
// includes wrapped native holdings.
type AccountSnapshot struct {
	Address        string         `json:"address"`
	Name           string         `json:"name"`
	DAO            bool           `json:"dao"`
	NativeBalance  float64        `json:"native_balance"`
	TokenBalances  []TokenBalance `json:"token_balances"`
	TotalUSDValue  float64        `json:"total_usd_value"`
	ReferencePrice float64        `json:"reference_price"`
}

// Summary aggregates account snapshots.
type Summary struct {
	Accounts                []AccountSnapshot      `json:"accounts"`
	TotalReserveValue       float64                `json:"total_reserve_value"`
	TotalHeldOfTrackedAsset float64                `json:"total_held_of_tracked_asset"`
	Prices                  map[string]price.Quote `json:"prices"`
	AsOf                    time.Time              `json:"as_of"`
}

// Valuer builds account snapshots from the ledger.
type Valuer struct {
	ledger   ledger.Client
	registry *tokens.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewValuer creates a Valuer.
func NewValuer(l ledger.Client, registry *tokens.Registry, logger zerolog.Logger) *Valuer {
	return &Valuer{ledger: l, registry: registry, logger: logger, now: time.Now}
}

// Snapshot values one account. The native balance is load-bearing; a failed
// token listing degrades to no tokens.
func (v *Valuer) Snapshot(ctx context.Context, acct Account, book price.Book) (AccountSnapshot, error) {
	var g fetch.Group
	native := fetch.Spawn(ctx, &g, func(ctx context.Context) (float64, error) {
		return v.ledger.GetNativeBalance(ctx, acct.Address)
	})
	toks := fetch.Spawn(ctx, &g, func(ctx context.Context) ([]ledger.TokenBalance, error) {
		return v.ledger.GetTokenBalances(ctx, acct.Address)
	})
	g.Wait()

	nativeBal, err := native.Result()
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("native balance of %s: %w", acct.Address, err)
	}
	raw, err := toks.Result()
	if err != nil {
		v.logger.Warn().Str("account", acct.Address).Err(err).Msg("token listing failed, continuing without tokens")
		raw = nil
	}

	return v.Assemble(acct, nativeBal, raw, book), nil
}

// Assemble merges raw balances into a snapshot: same-mint entries are
// summed, wrapped native is folded into the native balance, and only known
// mints are valued.
func (v *Valuer) Assemble(acct Account, native float64, raw []ledger.TokenBalance, book price.Book) AccountSnapshot {
	snap := AccountSnapshot{
		Address:        acct.Address,
		Name:           acct.Name,
		DAO:            acct.DAO,
		NativeBalance:  native,
		ReferencePrice: v.priceOf(v.registry.Native(), book),
	}

	byMint := make(map[string]*TokenBalance)
	var order []string
	for _, tb := range raw {
		if v.registry.IsWrappedNative(tb.Mint) {
			snap.NativeBalance += tb.Amount
			continue
		}
		if agg, ok := byMint[tb.Mint]; ok {
			agg.Amount += tb.Amount
			continue
		}
		byMint[tb.Mint] = &TokenBalance{
			Mint:     tb.Mint,
			Symbol:   v.registry.DisplaySymbol(tb.Mint),
			Amount:   tb.Amount,
			Decimals: tb.Decimals,
		}
		order = append(order, tb.Mint)
	}

	for _, mint := range order {
		tb := byMint[mint]
		if tb.Amount <= 0 {
			continue
		}
		if tok, ok := v.registry.Lookup(mint); ok {
			usd := tb.Amount * v.priceOf(tok, book)
			tb.USDValue = &usd
		}
		snap.TokenBalances = append(snap.TokenBalances, *tb)
	}
	sortBalances(snap.TokenBalances)

	snap.TotalUSDValue = Total(snap)
	return snap
}

func (v *Valuer) priceOf(tok tokens.Token, book price.Book) float64 {
	if q, ok := book.Quotes[tok.Symbol]; ok && q.Price > 0 {
		return q.Price
	}
	return price.StaticPrice(tok)
}

// Total is native*referencePrice plus every token USD value, in list order.
func Total(s AccountSnapshot) float64 {
	total := s.NativeBalance * s.ReferencePrice
	for _, tb := range s.TokenBalances {
		if tb.USDValue != nil {
			total += *tb.USDValue
		}
	}
	return total
}

// Summarize reconciles snapshots. DAO accounts keep only allow-listed
// tokens, every total is recomputed from the displayed items, and the
// reserve value is their sum.
func Summarize(snaps []AccountSnapshot, registry *tokens.Registry, book price.Book, asOf time.Time) Summary {
	tracked := registry.Tracked().Mint
	sum := Summary{
		Accounts: make([]AccountSnapshot, 0, len(snaps)),
		Prices:   book.Quotes,
		AsOf:     asOf,
	}

	for _, s := range snaps {
		if s.DAO {
			kept := make([]TokenBalance, 0, len(s.TokenBalances))
			for _, tb := range s.TokenBalances {
				if registry.Allowed(tb.Mint, tb.Symbol) {
					kept = append(kept, tb)
				}
			}
			s.TokenBalances = kept
		}
		s.TotalUSDValue = Total(s)

		for _, tb := range s.TokenBalances {
			if tb.Mint == tracked {
				sum.TotalHeldOfTrackedAsset += tb.Amount
			}
		}
		sum.TotalReserveValue += s.TotalUSDValue
		sum.Accounts = append(sum.Accounts, s)
	}
	return sum
}

// Summary values every account concurrently and reconciles the results.
// Any account whose native balance cannot be read fails the summary.
func (v *Valuer) Summary(ctx context.Context, accounts []Account, book price.Book) (Summary, error) {
	var g fetch.Group
	tasks := make([]*fetch.Task[AccountSnapshot], len(accounts))
	for i, acct := range accounts {
		tasks[i] = fetch.Spawn(ctx, &g, func(ctx context.Context) (AccountSnapshot, error) {
			return v.Snapshot(ctx, acct, book)
		})
	}
	g.Wait()

	snaps := make([]AccountSnapshot, 0, len(tasks))
	for i, t := range tasks {
		s, err := t.Result()
		if err != nil {
			return Summary{}, fmt.Errorf("account %s: %w", accounts[i].Name, err)
		}
		snaps = append(snaps, s)
	}
	return Summarize(snaps, v.registry, book, v.now()), nil
}

// sortBalances orders valued tokens by USD value descending, then unvalued
// tokens, each group by symbol.
func sortBalances(b []TokenBalance) {
	sort.SliceStable(b, func(i, j int) bool {
		vi, vj := b[i].USDValue, b[j].USDValue
		switch {
		case vi != nil && vj == nil:
			return true
		case vi == nil && vj != nil:
			return false
		case vi != nil && vj != nil && *vi != *vj:
			return *vi > *vj
		}
		return b[i].Symbol < b[j].Symbol
	})
}
