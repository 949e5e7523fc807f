package solana

import "context"

// WSClient defines the Solana WebSocket account subscription interface.
type WSClient interface {
	// SubscribeAccount streams change notifications for one account.
	SubscribeAccount(ctx context.Context, filter AccountFilter) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountFilter selects the account to watch.
type AccountFilter struct {
	Address    string
	Commitment string // defaults to "confirmed"
}

// AccountNotification is sent whenever the watched account changes.
type AccountNotification struct {
	Address  string
	Slot     int64
	Lamports uint64
	Owner    string
}
