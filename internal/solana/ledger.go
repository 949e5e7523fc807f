package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/ledger"
)

// Ledger implements ledger.Client and ledger.AccountReader over a pool of
// RPC endpoints. Every method runs through the fallback coordinator.
type Ledger struct {
	pool    *fetch.Pool
	coord   *fetch.Coordinator
	clients []RPCClient
	logger  zerolog.Logger
}

// Compile-time interface checks.
var (
	_ ledger.Client        = (*Ledger)(nil)
	_ ledger.AccountReader = (*Ledger)(nil)
)

// NewLedger creates a Ledger with one HTTPClient per pool endpoint.
func NewLedger(pool *fetch.Pool, coord *fetch.Coordinator, httpClient *http.Client, logger zerolog.Logger) *Ledger {
	clients := make([]RPCClient, pool.Len())
	for _, ep := range pool.Endpoints() {
		opts := []ClientOption{WithName(ep.Name)}
		if httpClient != nil {
			opts = append(opts, WithHTTPClient(httpClient))
		}
		clients[ep.Index] = NewHTTPClient(ep.URL, opts...)
	}
	return &Ledger{pool: pool, coord: coord, clients: clients, logger: logger}
}

// NewLedgerWithClients creates a Ledger over prebuilt clients, one per endpoint.
func NewLedgerWithClients(pool *fetch.Pool, coord *fetch.Coordinator, clients []RPCClient) (*Ledger, error) {
	if len(clients) != pool.Len() {
		return nil, fmt.Errorf("have %d clients for %d endpoints", len(clients), pool.Len())
	}
	return &Ledger{pool: pool, coord: coord, clients: clients, logger: zerolog.Nop()}, nil
}

// Pool returns the endpoint pool.
func (l *Ledger) Pool() *fetch.Pool {
	return l.pool
}

func (l *Ledger) client(ep fetch.Endpoint) RPCClient {
	return l.clients[ep.Index]
}

// GetNativeBalance returns the SOL balance of address.
func (l *Ledger) GetNativeBalance(ctx context.Context, address string) (float64, error) {
	if err := ValidateAddress(address); err != nil {
		return 0, err
	}
	lamports, err := fetch.Do(ctx, l.coord, l.pool, "getBalance", func(ctx context.Context, ep fetch.Endpoint) (uint64, error) {
		return l.client(ep).GetBalance(ctx, address)
	})
	if err != nil {
		return 0, err
	}
	return LamportsToSOL(lamports), nil
}

// GetTokenBalances returns token accounts of owner under both token programs.
// A Token-2022 listing failure is logged and ignored.
func (l *Ledger) GetTokenBalances(ctx context.Context, owner string) ([]ledger.TokenBalance, error) {
	if err := ValidateAddress(owner); err != nil {
		return nil, err
	}

	list := func(program string) func(ctx context.Context) ([]TokenAccount, error) {
		return func(ctx context.Context) ([]TokenAccount, error) {
			return fetch.Do(ctx, l.coord, l.pool, "getTokenAccountsByOwner", func(ctx context.Context, ep fetch.Endpoint) ([]TokenAccount, error) {
				return l.client(ep).GetTokenAccountsByOwner(ctx, owner, program)
			})
		}
	}

	var g fetch.Group
	legacy := fetch.Spawn(ctx, &g, list(TokenProgramID))
	ext := fetch.Spawn(ctx, &g, list(Token2022ProgramID))
	g.Wait()

	accounts, err := legacy.Result()
	if err != nil {
		return nil, err
	}
	extAccounts, err := ext.Result()
	if err != nil {
		l.logger.Warn().Str("owner", owner).Err(err).Msg("token-2022 listing failed")
	}
	accounts = append(accounts, extAccounts...)

	balances := make([]ledger.TokenBalance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, ledger.TokenBalance{
			Account:  a.Pubkey,
			Mint:     a.Mint,
			Amount:   UIAmount(a.Amount),
			Decimals: a.Amount.Decimals,
		})
	}
	return balances, nil
}

// GetRecentSignatures returns up to limit most recent signatures for address.
func (l *Ledger) GetRecentSignatures(ctx context.Context, address string, limit int) ([]ledger.Signature, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	infos, err := fetch.Do(ctx, l.coord, l.pool, "getSignaturesForAddress", func(ctx context.Context, ep fetch.Endpoint) ([]SignatureInfo, error) {
		return l.client(ep).GetSignaturesForAddress(ctx, address, &SignaturesOpts{Limit: limit})
	})
	if err != nil {
		return nil, err
	}

	sigs := make([]ledger.Signature, len(infos))
	for i, info := range infos {
		sigs[i] = ledger.Signature{
			Signature: info.Signature,
			Slot:      info.Slot,
			BlockTime: info.BlockTime,
			Failed:    info.Err != nil,
		}
	}
	return sigs, nil
}

// GetTransactionDetail fetches and parses a transaction.
func (l *Ledger) GetTransactionDetail(ctx context.Context, signature string) (*ledger.TransactionDetail, error) {
	tx, err := fetch.Do(ctx, l.coord, l.pool, "getTransaction", func(ctx context.Context, ep fetch.Endpoint) (*Transaction, error) {
		return l.client(ep).GetTransaction(ctx, signature)
	})
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fetch.Errorf(fetch.KindNotFound, "transaction %s not found", signature)
	}
	return ParseTransaction(tx), nil
}

// ParseTransaction derives per-owner balance deltas from a transaction.
// Native deltas are raw lamport differences; the fee is not added back.
func ParseTransaction(tx *Transaction) *ledger.TransactionDetail {
	detail := &ledger.TransactionDetail{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
	}

	var keys []string
	if tx.Message != nil {
		keys = tx.Message.AccountKeys
		detail.ProgramIDs = tx.Message.ProgramIDs()
	}
	if len(keys) > 0 {
		detail.FeePayer = keys[0]
	}

	if tx.Meta == nil {
		return detail
	}
	detail.Success = tx.Meta.Err == nil
	detail.Fee = LamportsToSOL(tx.Meta.Fee)

	for i, key := range keys {
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			break
		}
		pre, post := tx.Meta.PreBalances[i], tx.Meta.PostBalances[i]
		if pre == post {
			continue
		}
		change := decimal.NewFromInt(int64(post)).Sub(decimal.NewFromInt(int64(pre))).Shift(-9)
		detail.Deltas = append(detail.Deltas, ledger.BalanceDelta{
			Owner:  key,
			Native: true,
			Change: change.InexactFloat64(),
		})
	}

	type ownerMint struct {
		owner string
		mint  string
	}
	tokenDeltas := make(map[ownerMint]decimal.Decimal)
	apply := func(entries []TokenBalanceEntry, sign int64) {
		for _, e := range entries {
			owner := e.Owner
			if owner == "" && e.AccountIndex < len(keys) {
				owner = keys[e.AccountIndex]
			}
			k := ownerMint{owner: owner, mint: e.Mint}
			amount := baseUnits(e.UITokenAmount).Shift(-int32(e.UITokenAmount.Decimals))
			tokenDeltas[k] = tokenDeltas[k].Add(amount.Mul(decimal.NewFromInt(sign)))
		}
	}
	apply(tx.Meta.PostTokenBalances, 1)
	apply(tx.Meta.PreTokenBalances, -1)

	keysSorted := make([]ownerMint, 0, len(tokenDeltas))
	for k, d := range tokenDeltas {
		if !d.IsZero() {
			keysSorted = append(keysSorted, k)
		}
	}
	sort.Slice(keysSorted, func(i, j int) bool {
		if keysSorted[i].owner != keysSorted[j].owner {
			return keysSorted[i].owner < keysSorted[j].owner
		}
		return keysSorted[i].mint < keysSorted[j].mint
	})
	for _, k := range keysSorted {
		detail.Deltas = append(detail.Deltas, ledger.BalanceDelta{
			Owner:  k.owner,
			Mint:   k.mint,
			Change: tokenDeltas[k].InexactFloat64(),
		})
	}

	return detail
}

// GetBlockTime returns the production time of slot.
func (l *Ledger) GetBlockTime(ctx context.Context, slot int64) (*int64, error) {
	return fetch.Do(ctx, l.coord, l.pool, "getBlockTime", func(ctx context.Context, ep fetch.Endpoint) (*int64, error) {
		return l.client(ep).GetBlockTime(ctx, slot)
	})
}

// GetAccountData returns the decoded data of address.
func (l *Ledger) GetAccountData(ctx context.Context, address string) ([]byte, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	info, err := fetch.Do(ctx, l.coord, l.pool, "getAccountInfo", func(ctx context.Context, ep fetch.Endpoint) (*AccountInfo, error) {
		return l.client(ep).GetAccountInfo(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fetch.Errorf(fetch.KindNotFound, "account %s not found", address)
	}
	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fetch.Errorf(fetch.KindUnavailable, "decode account %s: %v", address, err)
	}
	return data, nil
}

// GetProgramAccounts returns accounts owned by program matching filters.
func (l *Ledger) GetProgramAccounts(ctx context.Context, program string, filters []ledger.Memcmp, dataSize uint64) ([]ledger.ProgramAccount, error) {
	opts := &ProgramAccountsOpts{DataSize: dataSize}
	for _, f := range filters {
		opts.Memcmp = append(opts.Memcmp, MemcmpFilter{Offset: f.Offset, Bytes: f.Bytes})
	}

	keyed, err := fetch.Do(ctx, l.coord, l.pool, "getProgramAccounts", func(ctx context.Context, ep fetch.Endpoint) ([]KeyedAccount, error) {
		return l.client(ep).GetProgramAccounts(ctx, program, opts)
	})
	if err != nil {
		return nil, err
	}

	out := make([]ledger.ProgramAccount, 0, len(keyed))
	for _, k := range keyed {
		data, err := base64.StdEncoding.DecodeString(k.Account.Data)
		if err != nil {
			l.logger.Warn().Str("account", k.Pubkey).Err(err).Msg("skipping undecodable program account")
			continue
		}
		out = append(out, ledger.ProgramAccount{Address: k.Pubkey, Data: data})
	}
	return out, nil
}

// GetTokenAccountBalance returns the balance of a token account.
func (l *Ledger) GetTokenAccountBalance(ctx context.Context, account string) (ledger.TokenBalance, error) {
	if err := ValidateAddress(account); err != nil {
		return ledger.TokenBalance{}, err
	}
	amount, err := fetch.Do(ctx, l.coord, l.pool, "getTokenAccountBalance", func(ctx context.Context, ep fetch.Endpoint) (*TokenAmount, error) {
		return l.client(ep).GetTokenAccountBalance(ctx, account)
	})
	if err != nil {
		return ledger.TokenBalance{}, err
	}
	if amount == nil {
		return ledger.TokenBalance{}, fetch.Errorf(fetch.KindNotFound, "token account %s not found", account)
	}
	return ledger.TokenBalance{
		Account:  account,
		Amount:   UIAmount(*amount),
		Decimals: amount.Decimals,
	}, nil
}
