// Package ledger defines the ledger capability consumed by the aggregation
// and assembly code. Implementations tag their errors with fetch kinds.
package ledger

import "context"

// TokenBalance is one token holding of an owner. Several entries may share a mint.
type TokenBalance struct {
	Account  string
	Mint     string
	Amount   float64
	Decimals uint8
}

// Signature is an entry of an address's transaction history.
type Signature struct {
	Signature string
	Slot      int64
	// BlockTime is the approximate time supplied by the signature list, if any.
	BlockTime *int64
	Failed    bool
}

// BalanceDelta is the net change of one owner's holding of one asset within
// a transaction. Native is set for the ledger's native asset, in which case
// Mint is empty.
type BalanceDelta struct {
	Owner  string
	Mint   string
	Native bool
	Change float64
}

// TransactionDetail is the parsed outcome of a confirmed transaction.
type TransactionDetail struct {
	Signature  string
	Slot       int64
	BlockTime  *int64
	Success    bool
	FeePayer   string
	Fee        float64
	Deltas     []BalanceDelta
	ProgramIDs []string
}

// Client is the read-only ledger API needed for balances and history.
type Client interface {
	// GetNativeBalance returns the native asset balance of address in whole units.
	GetNativeBalance(ctx context.Context, address string) (float64, error)

	// GetTokenBalances returns every token account held by owner.
	GetTokenBalances(ctx context.Context, owner string) ([]TokenBalance, error)

	// GetRecentSignatures returns up to limit most recent signatures, newest first.
	GetRecentSignatures(ctx context.Context, address string, limit int) ([]Signature, error)

	// GetTransactionDetail returns the parsed transaction. A missing transaction is KindNotFound.
	GetTransactionDetail(ctx context.Context, signature string) (*TransactionDetail, error)

	// GetBlockTime returns the production time of slot, or nil when unknown.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}

// Memcmp filters program accounts whose data at Offset equals Bytes (base58).
type Memcmp struct {
	Offset uint64
	Bytes  string
}

// ProgramAccount is a raw account owned by a program.
type ProgramAccount struct {
	Address string
	Data    []byte
}

// AccountReader exposes raw account data for program-specific decoding.
type AccountReader interface {
	// GetAccountData returns the raw data of address. A missing account is KindNotFound.
	GetAccountData(ctx context.Context, address string) ([]byte, error)

	// GetProgramAccounts returns accounts owned by program matching all filters.
	GetProgramAccounts(ctx context.Context, program string, filters []Memcmp, dataSize uint64) ([]ProgramAccount, error)

	// GetTokenAccountBalance returns the balance of a single token account.
	GetTokenAccountBalance(ctx context.Context, account string) (TokenBalance, error)
}
