// Package watch drops cached dashboard views when a followed account changes
// on the ledger.
package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/solana"
	"treasury-lens/internal/storage"
)

// DefaultRetryInterval is how often failed subscriptions are retried.
const DefaultRetryInterval = time.Minute

// Invalidator drops cached views of an address.
type Invalidator interface {
	Invalidate(address string)
}

// Options contains configuration for creating a Watcher.
type Options struct {
	WS          solana.WSClient
	Invalidator Invalidator
	// Wallets is optional. When set, saved wallets are watched as well and
	// the watched set follows list changes.
	Wallets       storage.WalletStore
	Treasury      []string
	Commitment    string
	RetryInterval time.Duration
	// Reconnects signals that the client reconnected. Changes during the gap
	// were missed, so every followed address is invalidated.
	Reconnects <-chan struct{}
	Logger     zerolog.Logger
}

// Watcher subscribes to account changes and invalidates the matching views.
type Watcher struct {
	ws            solana.WSClient
	inv           Invalidator
	wallets       storage.WalletStore
	treasury      []string
	commitment    string
	retryInterval time.Duration
	reconnects    <-chan struct{}
	logger        zerolog.Logger

	mu         sync.Mutex
	active     map[string]bool
	subscribed map[string]bool
	changes    chan string
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &Watcher{
		ws:            opts.WS,
		inv:           opts.Invalidator,
		wallets:       opts.Wallets,
		treasury:      opts.Treasury,
		commitment:    opts.Commitment,
		retryInterval: retry,
		reconnects:    opts.Reconnects,
		logger:        opts.Logger,
		active:        make(map[string]bool),
		subscribed:    make(map[string]bool),
		changes:       make(chan string, 64),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	var listCh <-chan []storage.Wallet
	var saved []storage.Wallet
	if w.wallets != nil {
		ch, err := w.wallets.Subscribe(ctx)
		if err != nil {
			return err
		}
		listCh = ch
		if saved, err = w.wallets.Load(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("load saved wallets")
		}
	}
	w.sync(ctx, saved)

	ticker := time.NewTicker(w.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case list, ok := <-listCh:
			if !ok {
				listCh = nil
				continue
			}
			w.sync(ctx, list)

		case addr := <-w.changes:
			if w.isActive(addr) {
				w.inv.Invalidate(addr)
			}

		case <-w.reconnects:
			for _, addr := range w.Watched() {
				w.inv.Invalidate(addr)
			}

		case <-ticker.C:
			w.retry(ctx)
		}
	}
}

// Watched returns the addresses currently followed, sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.active))
	for a := range w.active {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// sync makes the followed set the treasury plus wallets. Newly followed
// addresses are invalidated since changes before the subscription were missed.
func (w *Watcher) sync(ctx context.Context, wallets []storage.Wallet) {
	next := make(map[string]bool, len(w.treasury)+len(wallets))
	for _, a := range w.treasury {
		next[a] = true
	}
	for _, wl := range wallets {
		next[wl.Address] = true
	}

	w.mu.Lock()
	var added []string
	for a := range next {
		if !w.active[a] {
			added = append(added, a)
		}
	}
	w.active = next
	w.mu.Unlock()

	sort.Strings(added)
	for _, a := range added {
		w.inv.Invalidate(a)
	}
	w.retry(ctx)
}

// retry subscribes every followed address that has no subscription yet.
// The client offers no unsubscribe, so an address dropped from the list
// keeps its subscription and its notifications are ignored.
func (w *Watcher) retry(ctx context.Context) {
	w.mu.Lock()
	var pending []string
	for a := range w.active {
		if !w.subscribed[a] {
			pending = append(pending, a)
		}
	}
	w.mu.Unlock()
	sort.Strings(pending)

	for _, addr := range pending {
		ch, err := w.ws.SubscribeAccount(ctx, solana.AccountFilter{Address: addr, Commitment: w.commitment})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Str("address", addr).Err(err).Msg("account subscription failed, will retry")
			continue
		}

		w.mu.Lock()
		w.subscribed[addr] = true
		w.mu.Unlock()
		w.logger.Debug().Str("address", addr).Msg("watching account")

		go w.forward(ctx, addr, ch)
	}
}

func (w *Watcher) forward(ctx context.Context, addr string, ch <-chan solana.AccountNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				w.mu.Lock()
				delete(w.subscribed, addr)
				w.mu.Unlock()
				return
			}
			w.logger.Debug().Str("address", addr).Int64("slot", n.Slot).Msg("account changed")
			select {
			case w.changes <- addr:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) isActive(addr string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active[addr]
}
