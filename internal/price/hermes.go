package price

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/tokens"
)

// HermesClient reads Pyth prices from Hermes endpoints.
type HermesClient struct {
	httpFeed
}

// NewHermesClient creates a Hermes feed over pool.
func NewHermesClient(pool *fetch.Pool, coord *fetch.Coordinator, opts ...FeedOption) *HermesClient {
	return &HermesClient{httpFeed: newHTTPFeed(pool, coord, opts)}
}

// Name returns "hermes".
func (c *HermesClient) Name() string {
	return "hermes"
}

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// LatestPrice returns price*10^expo of the token's feed.
func (c *HermesClient) LatestPrice(ctx context.Context, token tokens.Token) (float64, error) {
	if token.FeedID == "" {
		return 0, fetch.Errorf(fetch.KindNotFound, "no hermes feed for %s", token.Symbol)
	}
	feedID := strings.TrimPrefix(strings.ToLower(token.FeedID), "0x")

	return do(ctx, c.httpFeed, "hermes.latest", func(ctx context.Context, ep fetch.Endpoint) (float64, error) {
		q := url.Values{}
		q.Add("ids[]", feedID)
		q.Set("parsed", "true")
		u := strings.TrimRight(ep.URL, "/") + "/v2/updates/price/latest?" + q.Encode()

		var resp hermesResponse
		if err := fetch.GetJSON(ctx, c.client, "hermes.latest", u, &resp); err != nil {
			return 0, err
		}

		for _, p := range resp.Parsed {
			if strings.TrimPrefix(strings.ToLower(p.ID), "0x") != feedID {
				continue
			}
			raw, err := decimal.NewFromString(p.Price.Price)
			if err != nil {
				return 0, fetch.Errorf(fetch.KindUnavailable, "hermes %s: bad price %q", token.Symbol, p.Price.Price)
			}
			return raw.Shift(p.Price.Expo).InexactFloat64(), nil
		}
		return 0, fetch.Errorf(fetch.KindNotFound, "hermes has no price for %s", token.Symbol)
	})
}
