package stub

import (
	"context"
	"sync"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Err, when set, is
// returned by every method and counted as a call.
type RPCClient struct {
	mu sync.Mutex

	Balances      map[string]uint64
	TokenAccounts map[string][]solana.TokenAccount // keyed by owner+"/"+program
	Transactions  map[string]*solana.Transaction
	Signatures    map[string][]solana.SignatureInfo
	BlockTimes    map[int64]int64
	Accounts      map[string]*solana.AccountInfo
	ProgramAccts  map[string][]solana.KeyedAccount
	TokenBalances map[string]*solana.TokenAmount
	Err           error
	MethodErr     map[string]error
	calls         map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Balances:      make(map[string]uint64),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Transactions:  make(map[string]*solana.Transaction),
		Signatures:    make(map[string][]solana.SignatureInfo),
		BlockTimes:    make(map[int64]int64),
		Accounts:      make(map[string]*solana.AccountInfo),
		ProgramAccts:  make(map[string][]solana.KeyedAccount),
		TokenBalances: make(map[string]*solana.TokenAmount),
		MethodErr:     make(map[string]error),
		calls:         make(map[string]int),
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of invocations across all methods.
func (c *RPCClient) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *RPCClient) enter(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	if err, ok := c.MethodErr[method]; ok && err != nil {
		return err
	}
	return c.Err
}

// GetBalance returns the stored lamport balance.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	if err := c.enter("getBalance"); err != nil {
		return 0, err
	}
	return c.Balances[pubkey], nil
}

// GetTokenAccountsByOwner returns token accounts stored under owner and program.
func (c *RPCClient) GetTokenAccountsByOwner(_ context.Context, owner, programID string) ([]solana.TokenAccount, error) {
	if err := c.enter("getTokenAccountsByOwner"); err != nil {
		return nil, err
	}
	return c.TokenAccounts[owner+"/"+programID], nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := c.enter("getSignaturesForAddress"); err != nil {
		return nil, err
	}
	sigs := c.Signatures[address]

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		return sigs[:opts.Limit], nil
	}
	return sigs, nil
}

// GetTransaction retrieves a transaction by signature. Unknown signatures
// return nil like the live node does.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if err := c.enter("getTransaction"); err != nil {
		return nil, err
	}
	return c.Transactions[signature], nil
}

// GetBlockTime returns the stored block time or nil.
func (c *RPCClient) GetBlockTime(_ context.Context, slot int64) (*int64, error) {
	if err := c.enter("getBlockTime"); err != nil {
		return nil, err
	}
	ts, ok := c.BlockTimes[slot]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

// GetAccountInfo returns stored account info or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if err := c.enter("getAccountInfo"); err != nil {
		return nil, err
	}
	return c.Accounts[pubkey], nil
}

// GetProgramAccounts returns accounts stored for program, ignoring filters.
func (c *RPCClient) GetProgramAccounts(_ context.Context, program string, _ *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	if err := c.enter("getProgramAccounts"); err != nil {
		return nil, err
	}
	return c.ProgramAccts[program], nil
}

// GetTokenAccountBalance returns the stored token account balance.
func (c *RPCClient) GetTokenAccountBalance(_ context.Context, account string) (*solana.TokenAmount, error) {
	if err := c.enter("getTokenAccountBalance"); err != nil {
		return nil, err
	}
	amount, ok := c.TokenBalances[account]
	if !ok {
		return nil, fetch.Errorf(fetch.KindNotFound, "could not find account %s", account)
	}
	return amount, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.Transactions[tx.Signature] = tx
}

// AddSignatures adds signatures for an address to the stub store.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.Signatures[address] = sigs
}

// AddTokenAccount stores a token account under its owner and program.
func (c *RPCClient) AddTokenAccount(program string, a solana.TokenAccount) {
	key := a.Owner + "/" + program
	c.TokenAccounts[key] = append(c.TokenAccounts[key], a)
}
