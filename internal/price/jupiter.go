package price

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/tokens"
)

// JupiterClient reads mint prices from the Jupiter price API.
type JupiterClient struct {
	httpFeed
}

// NewJupiterClient creates a Jupiter feed over pool.
func NewJupiterClient(pool *fetch.Pool, coord *fetch.Coordinator, opts ...FeedOption) *JupiterClient {
	return &JupiterClient{httpFeed: newHTTPFeed(pool, coord, opts)}
}

// Name returns "jupiter".
func (c *JupiterClient) Name() string {
	return "jupiter"
}

type jupiterResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Price string `json:"price"`
	} `json:"data"`
}

// LatestPrice returns the USD price of the token's mint.
func (c *JupiterClient) LatestPrice(ctx context.Context, token tokens.Token) (float64, error) {
	return do(ctx, c.httpFeed, "jupiter.price", func(ctx context.Context, ep fetch.Endpoint) (float64, error) {
		u := strings.TrimRight(ep.URL, "/") + "/price/v2?ids=" + url.QueryEscape(token.Mint)

		var resp jupiterResponse
		if err := fetch.GetJSON(ctx, c.client, "jupiter.price", u, &resp); err != nil {
			return 0, err
		}

		entry := resp.Data[token.Mint]
		if entry == nil || entry.Price == "" {
			return 0, fetch.Errorf(fetch.KindNotFound, "jupiter has no price for %s", token.Symbol)
		}
		p, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return 0, fetch.Errorf(fetch.KindUnavailable, "jupiter %s: bad price %q", token.Symbol, entry.Price)
		}
		return p.InexactFloat64(), nil
	})
}
