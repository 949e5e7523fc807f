// Package price fetches USD prices from third-party feeds and resolves a
// price book with last-known-good and static fallbacks.
package price

import (
	"context"
	"net/http"
	"time"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/tokens"
)

// DefaultFeedTimeout bounds one price lookup end to end, across endpoints.
const DefaultFeedTimeout = 10 * time.Second

// Feed returns the latest USD price of a token. A feed that has no price
// for the token returns a KindNotFound error.
type Feed interface {
	Name() string
	LatestPrice(ctx context.Context, token tokens.Token) (float64, error)
}

// httpFeed holds the endpoint pool plumbing shared by the HTTP feeds.
type httpFeed struct {
	pool    *fetch.Pool
	coord   *fetch.Coordinator
	client  *http.Client
	timeout time.Duration
}

// FeedOption configures an HTTP feed.
type FeedOption func(*httpFeed)

// WithFeedHTTPClient sets the HTTP client.
func WithFeedHTTPClient(c *http.Client) FeedOption {
	return func(f *httpFeed) {
		f.client = c
	}
}

// WithFeedTimeout sets the end-to-end timeout of one lookup.
func WithFeedTimeout(d time.Duration) FeedOption {
	return func(f *httpFeed) {
		f.timeout = d
	}
}

func newHTTPFeed(pool *fetch.Pool, coord *fetch.Coordinator, opts []FeedOption) httpFeed {
	f := httpFeed{
		pool:    pool,
		coord:   coord,
		client:  &http.Client{Timeout: fetch.DefaultTimeout},
		timeout: DefaultFeedTimeout,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// do runs fn over the pool within the feed's end-to-end timeout.
func do[T any](ctx context.Context, f httpFeed, op string, fn func(ctx context.Context, ep fetch.Endpoint) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return fetch.Do(ctx, f.coord, f.pool, op, fn)
}
