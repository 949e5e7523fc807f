package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBody bounds JSON responses read from third-party APIs.
const maxBody = 8 << 20

// StatusKind maps an HTTP status code to a kind. 2xx maps to KindUnknown.
// A bare 404 is KindUnavailable: it usually means a wrong or retired mirror,
// and clients report missing data from the response body instead.
func StatusKind(code int) Kind {
	switch {
	case code >= 200 && code < 300:
		return KindUnknown
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindUnavailable
	}
}

// GetJSON performs one GET and decodes the JSON body into out. Failures are
// tagged: transport errors by their net.Error class, statuses by StatusKind,
// undecodable bodies as KindUnavailable.
func GetJSON(ctx context.Context, client *http.Client, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kind := KindOf(err)
		if kind == KindUnknown {
			kind = KindNetwork
		}
		return &Error{Kind: kind, Op: op, Endpoint: req.URL.Host, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Endpoint: req.URL.Host, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return &Error{
			Kind:     StatusKind(resp.StatusCode),
			Op:       op,
			Endpoint: req.URL.Host,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, snippet),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindUnavailable, Op: op, Endpoint: req.URL.Host, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
