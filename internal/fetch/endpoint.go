package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is one alternative address of an upstream service.
type Endpoint struct {
	Index int
	Name  string
	URL   string
}

// Pool is an ordered, immutable list of endpoints for one upstream.
type Pool struct {
	name      string
	endpoints []Endpoint
}

// ErrEmptyPool is returned when a pool is created without endpoints.
var ErrEmptyPool = errors.New("endpoint pool is empty")

// NewPool creates a pool from URLs in priority order. Blank entries are rejected.
func NewPool(name string, urls ...string) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyPool)
	}

	p := &Pool{name: name, endpoints: make([]Endpoint, 0, len(urls))}
	for i, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("%s: endpoint %d is blank", name, i)
		}
		p.endpoints = append(p.endpoints, Endpoint{
			Index: i,
			Name:  endpointName(raw, i),
			URL:   raw,
		})
	}
	return p, nil
}

// endpointName returns the host part of raw so that API keys in paths or
// query strings never reach logs or error messages.
func endpointName(raw string, i int) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("endpoint-%d", i)
	}
	return u.Host
}

// Name returns the upstream name.
func (p *Pool) Name() string {
	return p.name
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	return len(p.endpoints)
}

// Endpoints returns a copy of the endpoints in priority order.
func (p *Pool) Endpoints() []Endpoint {
	out := make([]Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// At returns the endpoint for the given attempt, clamped to the last one.
func (p *Pool) At(attempt int) Endpoint {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.endpoints) {
		attempt = len(p.endpoints) - 1
	}
	return p.endpoints[attempt]
}

// Cursor returns a cursor yielding up to attempts endpoints. A non-positive
// attempts value yields each endpoint once. Attempts beyond the pool size
// reuse the last endpoint.
func (p *Pool) Cursor(attempts int) *Cursor {
	if attempts <= 0 {
		attempts = len(p.endpoints)
	}
	return &Cursor{pool: p, attempts: attempts}
}

// Cursor walks a pool in order.
type Cursor struct {
	pool     *Pool
	attempts int
	next     int
}

// Next returns the next endpoint, or false when the cursor is exhausted.
func (c *Cursor) Next() (Endpoint, bool) {
	if c.next >= c.attempts {
		return Endpoint{}, false
	}
	ep := c.pool.At(c.next)
	c.next++
	return ep, true
}

// Taken returns how many endpoints have been handed out.
func (c *Cursor) Taken() int {
	return c.next
}
