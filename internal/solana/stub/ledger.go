package stub

import (
	"context"
	"sync"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/ledger"
)

// Ledger is an in-memory ledger.Client and ledger.AccountReader. Errors can
// be injected per method through Fail.
type Ledger struct {
	mu sync.Mutex

	Native       map[string]float64
	Tokens       map[string][]ledger.TokenBalance
	Signatures   map[string][]ledger.Signature
	Details      map[string]*ledger.TransactionDetail
	BlockTimes   map[int64]int64
	AccountData  map[string][]byte
	ProgramAccts map[string][]ledger.ProgramAccount
	TokenAccts   map[string]ledger.TokenBalance

	fail  map[string]error
	calls map[string]int
}

var (
	_ ledger.Client        = (*Ledger)(nil)
	_ ledger.AccountReader = (*Ledger)(nil)
)

// NewLedger creates an empty stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Native:       make(map[string]float64),
		Tokens:       make(map[string][]ledger.TokenBalance),
		Signatures:   make(map[string][]ledger.Signature),
		Details:      make(map[string]*ledger.TransactionDetail),
		BlockTimes:   make(map[int64]int64),
		AccountData:  make(map[string][]byte),
		ProgramAccts: make(map[string][]ledger.ProgramAccount),
		TokenAccts:   make(map[string]ledger.TokenBalance),
		fail:         make(map[string]error),
		calls:        make(map[string]int),
	}
}

// Fail makes every subsequent call of method return err. A nil err clears it.
func (l *Ledger) Fail(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.fail, method)
		return
	}
	l.fail[method] = err
}

// Calls returns how many times method was invoked.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) enter(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[method]++
	return l.fail[method]
}

// GetNativeBalance returns the stored native balance.
func (l *Ledger) GetNativeBalance(_ context.Context, address string) (float64, error) {
	if err := l.enter("GetNativeBalance"); err != nil {
		return 0, err
	}
	return l.Native[address], nil
}

// GetTokenBalances returns the stored token balances.
func (l *Ledger) GetTokenBalances(_ context.Context, owner string) ([]ledger.TokenBalance, error) {
	if err := l.enter("GetTokenBalances"); err != nil {
		return nil, err
	}
	return l.Tokens[owner], nil
}

// GetRecentSignatures returns up to limit stored signatures.
func (l *Ledger) GetRecentSignatures(_ context.Context, address string, limit int) ([]ledger.Signature, error) {
	if err := l.enter("GetRecentSignatures"); err != nil {
		return nil, err
	}
	sigs := l.Signatures[address]
	if limit > 0 && limit < len(sigs) {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

// GetTransactionDetail returns the stored detail or a not-found error.
func (l *Ledger) GetTransactionDetail(_ context.Context, signature string) (*ledger.TransactionDetail, error) {
	if err := l.enter("GetTransactionDetail"); err != nil {
		return nil, err
	}
	d, ok := l.Details[signature]
	if !ok {
		return nil, fetch.Errorf(fetch.KindNotFound, "transaction %s not found", signature)
	}
	return d, nil
}

// GetBlockTime returns the stored block time or nil.
func (l *Ledger) GetBlockTime(_ context.Context, slot int64) (*int64, error) {
	if err := l.enter("GetBlockTime"); err != nil {
		return nil, err
	}
	ts, ok := l.BlockTimes[slot]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

// GetAccountData returns stored raw data or a not-found error.
func (l *Ledger) GetAccountData(_ context.Context, address string) ([]byte, error) {
	if err := l.enter("GetAccountData"); err != nil {
		return nil, err
	}
	data, ok := l.AccountData[address]
	if !ok {
		return nil, fetch.Errorf(fetch.KindNotFound, "account %s not found", address)
	}
	return data, nil
}

// GetProgramAccounts returns stored program accounts, ignoring filters.
func (l *Ledger) GetProgramAccounts(_ context.Context, program string, _ []ledger.Memcmp, _ uint64) ([]ledger.ProgramAccount, error) {
	if err := l.enter("GetProgramAccounts"); err != nil {
		return nil, err
	}
	return l.ProgramAccts[program], nil
}

// GetTokenAccountBalance returns the stored token account balance.
func (l *Ledger) GetTokenAccountBalance(_ context.Context, account string) (ledger.TokenBalance, error) {
	if err := l.enter("GetTokenAccountBalance"); err != nil {
		return ledger.TokenBalance{}, err
	}
	b, ok := l.TokenAccts[account]
	if !ok {
		return ledger.TokenBalance{}, fetch.Errorf(fetch.KindNotFound, "token account %s not found", account)
	}
	return b, nil
}
