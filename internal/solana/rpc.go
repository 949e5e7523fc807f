package solana

import "context"

// Well-known program IDs.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	SystemProgramID    = "11111111111111111111111111111111"
)

// LamportsPerSOL is the number of base units in one SOL.
const LamportsPerSOL = 1_000_000_000

// RPCClient defines the Solana JSON-RPC methods used against a single endpoint.
type RPCClient interface {
	// GetBalance returns the lamport balance of pubkey.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetTokenAccountsByOwner returns parsed token accounts of owner for a token program.
	GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]TokenAccount, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a transaction by signature. Returns nil if not found.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetBlockTime retrieves the estimated production time of a block.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)

	// GetAccountInfo retrieves account info by public key. Returns nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetProgramAccounts retrieves accounts owned by program.
	GetProgramAccounts(ctx context.Context, program string, opts *ProgramAccountsOpts) ([]KeyedAccount, error)

	// GetTokenAccountBalance retrieves the balance of one token account.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime *int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalanceEntry
	PostTokenBalances []TokenBalanceEntry
	LogMessages       []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	// AccountKeys includes addresses loaded from lookup tables, writable first.
	AccountKeys  []string
	Instructions []CompiledInstruction
}

// CompiledInstruction references its program by account key index.
type CompiledInstruction struct {
	ProgramIDIndex int
}

// ProgramIDs returns the distinct programs invoked by top-level instructions.
func (m *TransactionMessage) ProgramIDs() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, ix := range m.Instructions {
		if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(m.AccountKeys) {
			continue
		}
		id := m.AccountKeys[ix.ProgramIDIndex]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// TokenBalanceEntry is a pre or post token balance of one account in a transaction.
type TokenBalanceEntry struct {
	AccountIndex  int         `json:"accountIndex"`
	Mint          string      `json:"mint"`
	Owner         string      `json:"owner"`
	UITokenAmount TokenAmount `json:"uiTokenAmount"`
}

// TokenAmount is a token quantity in base units with its decimals.
type TokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// TokenAccount is a parsed SPL token account.
type TokenAccount struct {
	Pubkey string
	Mint   string
	Owner  string
	Amount TokenAmount
}

// KeyedAccount is an account returned by getProgramAccounts.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}
