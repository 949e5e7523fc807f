package memory

import (
	"context"
	"sync"

	"treasury-lens/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletStore.
type WalletStore struct {
	mu      sync.RWMutex
	wallets []storage.Wallet
	saved   bool
	subs    map[chan []storage.Wallet]struct{}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

// NewWalletStore creates a new in-memory wallet store.
func NewWalletStore() *WalletStore {
	return &WalletStore{subs: make(map[chan []storage.Wallet]struct{})}
}

// Load returns the saved list, or nil when nothing was ever saved.
func (s *WalletStore) Load(_ context.Context) ([]storage.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return nil, nil
	}
	return clone(s.wallets), nil
}

// Save replaces the list and notifies subscribers.
func (s *WalletStore) Save(_ context.Context, wallets []storage.Wallet) error {
	if err := storage.ValidateWallets(wallets); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = clone(wallets)
	s.saved = true

	for ch := range s.subs {
		// A subscriber that has not consumed the previous list gets the newer one.
		select {
		case <-ch:
		default:
		}
		ch <- clone(s.wallets)
	}
	return nil
}

// Subscribe delivers the list after every Save until ctx is done.
func (s *WalletStore) Subscribe(ctx context.Context) (<-chan []storage.Wallet, error) {
	ch := make(chan []storage.Wallet, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func clone(ws []storage.Wallet) []storage.Wallet {
	out := make([]storage.Wallet, len(ws))
	copy(out, ws)
	return out
}
