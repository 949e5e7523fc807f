package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"treasury-lens/internal/storage"
)

// walletChannel is the NOTIFY channel raised by every save.
const walletChannel = "wallets_changed"

// WalletStore is a PostgreSQL implementation of storage.WalletStore.
// Saves raise a NOTIFY that every subscriber LISTENs on, so processes
// sharing the database see each other's changes.
type WalletStore struct {
	pool *Pool
	// OnError receives subscription errors. Nil discards them.
	OnError func(error)
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

// NewWalletStore creates a new PostgreSQL wallet store.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Load returns the saved list, or nil when nothing was ever saved.
func (s *WalletStore) Load(ctx context.Context) (_ []storage.Wallet, err error) {
	start := time.Now()
	defer func() { observe("wallet_load", start, err) }()

	var savedAt time.Time
	err = s.pool.QueryRow(ctx, `SELECT saved_at FROM wallet_list_state WHERE id = 1`).Scan(&savedAt)
	if isNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet state: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT address, label, added_at
		FROM wallets
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	wallets := []storage.Wallet{}
	for rows.Next() {
		var w storage.Wallet
		if err := rows.Scan(&w.Address, &w.Label, &w.AddedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		w.AddedAt = w.AddedAt.UTC()
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// Save replaces the list in one transaction and notifies subscribers on commit.
func (s *WalletStore) Save(ctx context.Context, wallets []storage.Wallet) (err error) {
	if err := storage.ValidateWallets(wallets); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe("wallet_save", start, err) }()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM wallets`); err != nil {
			return fmt.Errorf("clear wallets: %w", err)
		}

		now := time.Now().UTC()
		for i, w := range wallets {
			addedAt := w.AddedAt
			if addedAt.IsZero() {
				addedAt = now
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO wallets (address, position, label, added_at)
				VALUES ($1, $2, $3, $4)
			`, w.Address, i, w.Label, addedAt.UTC())
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: wallet %s", storage.ErrDuplicateKey, w.Address)
			}
			if err != nil {
				return fmt.Errorf("insert wallet %s: %w", w.Address, err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_list_state (id, saved_at)
			VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET saved_at = EXCLUDED.saved_at
		`, now); err != nil {
			return fmt.Errorf("update wallet state: %w", err)
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, '')`, walletChannel); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
}

// Subscribe LISTENs on a dedicated connection and delivers the reloaded
// list after every notification until ctx is done.
func (s *WalletStore) Subscribe(ctx context.Context) (<-chan []storage.Wallet, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+walletChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", walletChannel, err)
	}

	ch := make(chan []storage.Wallet, 1)
	go func() {
		defer close(ch)
		defer conn.Release()

		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				if ctx.Err() == nil {
					s.report(fmt.Errorf("wait for wallet notification: %w", err))
				}
				return
			}

			wallets, err := s.Load(ctx)
			if err != nil {
				s.report(err)
				continue
			}
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- wallets:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *WalletStore) report(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}
