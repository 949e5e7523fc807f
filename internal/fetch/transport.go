package fetch

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"treasury-lens/internal/observability"
)

// RateLimitedTransport waits for a per-host token before each request.
type RateLimitedTransport struct {
	Base  http.RoundTripper
	Rate  rate.Limit
	Burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// RoundTrip waits for the host limiter before delegating to the base transport.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if l := t.limiter(req.URL.Host); l != nil {
		if err := l.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return base(t.Base).RoundTrip(req)
}

func (t *RateLimitedTransport) limiter(host string) *rate.Limiter {
	if t.Rate <= 0 || host == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limiters == nil {
		t.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := t.limiters[host]
	if !ok {
		burst := t.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(t.Rate, burst)
		t.limiters[host] = l
	}
	return l
}

// MetricsTransport records upstream HTTP status codes by host.
type MetricsTransport struct {
	Base http.RoundTripper
}

func (t *MetricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := base(t.Base).RoundTrip(req)
	if err != nil {
		return nil, err
	}
	observability.RecordHTTPResponse(req.URL.Host, resp.StatusCode)
	return resp, nil
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt != nil {
		return rt
	}
	return http.DefaultTransport
}

// NewHTTPClient returns a client that rate limits per host and records
// response codes. A non-positive rps disables limiting.
func NewHTTPClient(timeout time.Duration, rps float64, burst int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var transport http.RoundTripper = &MetricsTransport{}
	if rps > 0 {
		transport = &RateLimitedTransport{Base: transport, Rate: rate.Limit(rps), Burst: burst}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
