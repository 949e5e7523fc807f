package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/cache"
	"treasury-lens/internal/fetch"
	"treasury-lens/internal/observability"
	"treasury-lens/internal/tokens"
)

// Source records where a quote came from.
type Source string

const (
	SourceLive      Source = "live"
	SourceLastKnown Source = "last_known"
	SourceStatic    Source = "static"
)

// DefaultTTL is how long a live price is reused without asking the feeds.
const DefaultTTL = 60 * time.Second

// Quote is a resolved USD price.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Source Source    `json:"source"`
	AsOf   time.Time `json:"as_of"`
}

// Book is a set of quotes by symbol.
type Book struct {
	Quotes map[string]Quote `json:"quotes"`
}

// Price returns the price of symbol, or 0 when the book has none.
func (b Book) Price(symbol string) float64 {
	return b.Quotes[symbol].Price
}

// Has reports whether the book holds a quote for symbol.
func (b Book) Has(symbol string) bool {
	_, ok := b.Quotes[symbol]
	return ok
}

// Resolver resolves prices through the feeds in order, then the last price
// any feed returned, then the token's static fallback.
type Resolver struct {
	registry *tokens.Registry
	feeds    []Feed
	live     *cache.Store[float64]
	now      func() time.Time
	logger   zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock replaces the time source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithStore replaces the live price store.
func WithStore(s *cache.Store[float64]) ResolverOption {
	return func(r *Resolver) {
		r.live = s
	}
}

// NewResolver creates a resolver over feeds, tried in order.
func NewResolver(registry *tokens.Registry, feeds []Feed, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry: registry,
		feeds:    feeds,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.live == nil {
		// Stale window equal to the fresh window: a failed refresh is never
		// served by the store itself, so the resolver can label it.
		r.live = cache.New[float64]("prices", cache.Config{FreshTTL: DefaultTTL, StaleTTL: DefaultTTL}, cache.WithClock(r.now))
	}
	return r
}

// Registry returns the token registry.
func (r *Resolver) Registry() *tokens.Registry {
	return r.registry
}

// Book resolves every symbol concurrently. Unknown symbols are skipped.
// The result always carries a positive price for every known symbol.
func (r *Resolver) Book(ctx context.Context, symbols ...string) Book {
	if len(symbols) == 0 {
		symbols = r.registry.Symbols()
	}

	var g fetch.Group
	tasks := make(map[string]*fetch.Task[Quote], len(symbols))
	for _, sym := range symbols {
		if _, dup := tasks[sym]; dup {
			continue
		}
		tok, ok := r.registry.BySymbol(sym)
		if !ok {
			r.logger.Debug().Str("symbol", sym).Msg("skipping unknown symbol")
			continue
		}
		tasks[sym] = fetch.Spawn(ctx, &g, func(ctx context.Context) (Quote, error) {
			return r.Quote(ctx, tok), nil
		})
	}
	g.Wait()

	book := Book{Quotes: make(map[string]Quote, len(tasks))}
	for sym, t := range tasks {
		q, _ := t.Result()
		book.Quotes[sym] = q
	}
	return book
}

// Quote resolves one token's price. It never fails.
func (r *Resolver) Quote(ctx context.Context, tok tokens.Token) Quote {
	p, err := r.live.Get(ctx, tok.Symbol, func(ctx context.Context) (float64, error) {
		return r.fetchLive(ctx, tok)
	})
	if err == nil {
		_, at, _ := r.live.Peek(tok.Symbol)
		return Quote{Symbol: tok.Symbol, Price: p, Source: SourceLive, AsOf: at}
	}

	if last, at, ok := r.live.Peek(tok.Symbol); ok && last > 0 {
		observability.RecordPriceFallback(tok.Symbol, string(SourceLastKnown))
		r.logger.Warn().Str("symbol", tok.Symbol).Time("as_of", at).Err(err).Msg("using last known price")
		return Quote{Symbol: tok.Symbol, Price: last, Source: SourceLastKnown, AsOf: at}
	}

	observability.RecordPriceFallback(tok.Symbol, string(SourceStatic))
	r.logger.Warn().Str("symbol", tok.Symbol).Err(err).Msg("using static fallback price")
	return Quote{Symbol: tok.Symbol, Price: StaticPrice(tok), Source: SourceStatic, AsOf: r.now()}
}

// fetchLive returns the first positive price from the feeds.
func (r *Resolver) fetchLive(ctx context.Context, tok tokens.Token) (float64, error) {
	var errs []error
	for _, f := range r.feeds {
		p, err := f.LatestPrice(ctx, tok)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		if p > 0 {
			return p, nil
		}
		errs = append(errs, fmt.Errorf("%s: non-positive price %v", f.Name(), p))
	}
	if len(errs) == 0 {
		return 0, fetch.Errorf(fetch.KindUnavailable, "no price feeds configured")
	}
	return 0, &fetch.Error{Kind: fetch.KindUnavailable, Op: "price " + tok.Symbol, Err: errors.Join(errs...)}
}

// StaticPrice is the last-resort price: 1 for stablecoins, otherwise the
// token's declared constant.
func StaticPrice(tok tokens.Token) float64 {
	if tok.Stable {
		return 1
	}
	return tok.FallbackPrice
}
