// Package dca reads recurring (dollar-cost-averaging) orders and summarizes
// the ones that buy the tracked asset.
package dca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/solana"
)

const (
	// DefaultTimeout bounds one order listing end to end.
	DefaultTimeout = 15 * time.Second

	// maxPages caps pagination of one listing.
	maxPages = 20
)

// Order is a recurring order. Amounts are in whole input tokens.
type Order struct {
	OrderKey       string    `json:"order_key"`
	InputMint      string    `json:"input_mint"`
	OutputMint     string    `json:"output_mint"`
	Deposited      float64   `json:"deposited"`
	Used           float64   `json:"used"`
	Withdrawn      float64   `json:"withdrawn"`
	Received       float64   `json:"received"`
	AmountPerCycle float64   `json:"amount_per_cycle"`
	CycleSeconds   int64     `json:"cycle_seconds"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Remaining is the unspent deposit, never negative.
func (o Order) Remaining() float64 {
	if r := o.Deposited - o.Used; r > 0 {
		return r
	}
	return 0
}

// Status is the DCA view of one owner.
type Status struct {
	UsingDCA     bool    `json:"using_dca"`
	Orders       []Order `json:"orders"`
	VaultBalance float64 `json:"vault_balance"`
}

// Assemble keeps the orders trading inputMint for outputMint and sums their
// remaining deposits.
func Assemble(orders []Order, inputMint, outputMint string) Status {
	st := Status{Orders: []Order{}}
	for _, o := range orders {
		if o.InputMint != inputMint || o.OutputMint != outputMint {
			continue
		}
		st.Orders = append(st.Orders, o)
		st.VaultBalance += o.Remaining()
	}
	st.UsingDCA = len(st.Orders) > 0
	return st
}

// Filter selects orders of a listing.
type Filter struct {
	// Status is "active" or "history". Empty means active.
	Status string
}

// Client lists recurring orders from the order API.
type Client struct {
	pool    *fetch.Pool
	coord   *fetch.Coordinator
	http    *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the end-to-end timeout of one listing.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// NewClient creates a Client over pool.
func NewClient(pool *fetch.Pool, coord *fetch.Coordinator, opts ...Option) *Client {
	c := &Client{
		pool:    pool,
		coord:   coord,
		http:    &http.Client{Timeout: fetch.DefaultTimeout},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ordersResponse struct {
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
	Time       []orderEntry `json:"time"`
}

type orderEntry struct {
	OrderKey         string `json:"orderKey"`
	InputMint        string `json:"inputMint"`
	OutputMint       string `json:"outputMint"`
	InDeposited      string `json:"inDeposited"`
	InUsed           string `json:"inUsed"`
	InWithdrawn      string `json:"inWithdrawn"`
	OutReceived      string `json:"outReceived"`
	InAmountPerCycle string `json:"inAmountPerCycle"`
	CycleFrequency   string `json:"cycleFrequency"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

// Orders lists every time-based recurring order of owner, following pages.
func (c *Client) Orders(ctx context.Context, owner string, f Filter) ([]Order, error) {
	if err := solana.ValidateAddress(owner); err != nil {
		return nil, err
	}
	status := f.Status
	if status == "" {
		status = "active"
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out []Order
	for page := 1; page <= maxPages; page++ {
		resp, err := fetch.Do(ctx, c.coord, c.pool, "dca.orders", func(ctx context.Context, ep fetch.Endpoint) (ordersResponse, error) {
			q := url.Values{}
			q.Set("user", owner)
			q.Set("orderStatus", status)
			q.Set("recurringType", "time")
			q.Set("page", strconv.Itoa(page))
			u := strings.TrimRight(ep.URL, "/") + "/recurring/v1/getRecurringOrders?" + q.Encode()

			var r ordersResponse
			err := fetch.GetJSON(ctx, c.http, "dca.orders", u, &r)
			return r, err
		})
		if err != nil {
			return nil, fmt.Errorf("recurring orders of %s: %w", owner, err)
		}

		for _, e := range resp.Time {
			out = append(out, e.order())
		}
		if resp.TotalPages <= page {
			break
		}
	}
	return out, nil
}

func (e orderEntry) order() Order {
	return Order{
		OrderKey:       e.OrderKey,
		InputMint:      e.InputMint,
		OutputMint:     e.OutputMint,
		Deposited:      amount(e.InDeposited),
		Used:           amount(e.InUsed),
		Withdrawn:      amount(e.InWithdrawn),
		Received:       amount(e.OutReceived),
		AmountPerCycle: amount(e.InAmountPerCycle),
		CycleSeconds:   int64(amount(e.CycleFrequency)),
		CreatedAt:      timestamp(e.CreatedAt),
		UpdatedAt:      timestamp(e.UpdatedAt),
	}
}

// amount parses a decimal string, treating malformed input as zero.
func amount(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func timestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
