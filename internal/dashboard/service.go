// Package dashboard is the read facade behind every dashboard view. Each
// view is served through its own cache store.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/cache"
	"treasury-lens/internal/dca"
	"treasury-lens/internal/price"
	"treasury-lens/internal/reserve"
	"treasury-lens/internal/solana"
	"treasury-lens/internal/staking"
	"treasury-lens/internal/swaps"
	"treasury-lens/internal/tokens"
)

// summaryKey is the single key of the reserve summary store.
const summaryKey = "treasury"

// PriceBook resolves USD prices.
type PriceBook interface {
	Book(ctx context.Context, symbols ...string) price.Book
}

// StakingReader assembles staking views.
type StakingReader interface {
	Info(ctx context.Context, owner string) (staking.Info, error)
}

// OrderLister lists recurring orders.
type OrderLister interface {
	Orders(ctx context.Context, owner string, f dca.Filter) ([]dca.Order, error)
}

// SwapReader assembles swap histories.
type SwapReader interface {
	History(ctx context.Context, address string) ([]swaps.Transaction, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Registry *tokens.Registry
	Prices   PriceBook
	Valuer   *reserve.Valuer
	Staking  StakingReader
	Orders   OrderLister
	Swaps    SwapReader
}

// Config configures a Service.
type Config struct {
	// Treasury lists the accounts of the reserve summary.
	Treasury []reserve.Account
	// DCAInputMint is the input side of the tracked recurring-order pair.
	// Empty means USDC.
	DCAInputMint string
	Cache        cache.Config
	// SummaryCache overrides Cache for the reserve summary when set.
	SummaryCache *cache.Config
}

// Service serves dashboard views.
type Service struct {
	deps     Deps
	cfg      Config
	logger   zerolog.Logger
	treasury map[string]reserve.Account

	stakingStore *cache.Store[staking.Info]
	accountStore *cache.Store[reserve.AccountSnapshot]
	summaryStore *cache.Store[reserve.Summary]
	dcaStore     *cache.Store[dca.Status]
	swapStore    *cache.Store[[]swaps.Transaction]
}

// New creates a Service. Extra cache options apply to every store.
func New(deps Deps, cfg Config, logger zerolog.Logger, opts ...cache.Option) *Service {
	if cfg.DCAInputMint == "" {
		cfg.DCAInputMint = tokens.USDCMint
	}
	opts = append([]cache.Option{cache.WithLogger(logger)}, opts...)

	summaryCfg := cfg.Cache
	if cfg.SummaryCache != nil {
		summaryCfg = *cfg.SummaryCache
	}

	s := &Service{
		deps:         deps,
		cfg:          cfg,
		logger:       logger,
		treasury:     make(map[string]reserve.Account, len(cfg.Treasury)),
		stakingStore: cache.New[staking.Info]("staking", cfg.Cache, opts...),
		accountStore: cache.New[reserve.AccountSnapshot]("account", cfg.Cache, opts...),
		summaryStore: cache.New[reserve.Summary]("reserve", summaryCfg, opts...),
		dcaStore:     cache.New[dca.Status]("dca", cfg.Cache, opts...),
		swapStore:    cache.New[[]swaps.Transaction]("swaps", cfg.Cache, opts...),
	}
	for _, a := range cfg.Treasury {
		s.treasury[a.Address] = a
	}
	return s
}

// Registry returns the token registry.
func (s *Service) Registry() *tokens.Registry {
	return s.deps.Registry
}

// Treasury returns the configured treasury accounts.
func (s *Service) Treasury() []reserve.Account {
	out := make([]reserve.Account, len(s.cfg.Treasury))
	copy(out, s.cfg.Treasury)
	return out
}

// StakingInfo returns the staking view of owner.
func (s *Service) StakingInfo(ctx context.Context, owner string) (staking.Info, error) {
	if err := solana.ValidateAddress(owner); err != nil {
		return staking.Info{}, err
	}
	return s.stakingStore.Get(ctx, owner, func(ctx context.Context) (staking.Info, error) {
		return s.deps.Staking.Info(ctx, owner)
	})
}

// Account values a single account, named after its treasury entry if any.
func (s *Service) Account(ctx context.Context, address string) (reserve.AccountSnapshot, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return reserve.AccountSnapshot{}, err
	}
	acct, ok := s.treasury[address]
	if !ok {
		acct = reserve.Account{Name: tokens.Truncate(address), Address: address}
	}
	return s.accountStore.Get(ctx, address, func(ctx context.Context) (reserve.AccountSnapshot, error) {
		return s.deps.Valuer.Snapshot(ctx, acct, s.deps.Prices.Book(ctx))
	})
}

// ReserveSummary values every treasury account.
func (s *Service) ReserveSummary(ctx context.Context) (reserve.Summary, error) {
	return s.summaryStore.Get(ctx, summaryKey, func(ctx context.Context) (reserve.Summary, error) {
		return s.deps.Valuer.Summary(ctx, s.cfg.Treasury, s.deps.Prices.Book(ctx))
	})
}

// DCAStatus summarizes owner's recurring orders into the tracked asset.
func (s *Service) DCAStatus(ctx context.Context, owner string) (dca.Status, error) {
	if err := solana.ValidateAddress(owner); err != nil {
		return dca.Status{}, err
	}
	return s.dcaStore.Get(ctx, owner, func(ctx context.Context) (dca.Status, error) {
		orders, err := s.deps.Orders.Orders(ctx, owner, dca.Filter{})
		if err != nil {
			return dca.Status{}, err
		}
		return dca.Assemble(orders, s.cfg.DCAInputMint, s.deps.Registry.Tracked().Mint), nil
	})
}

// SwapHistory returns the recent swaps of address into the tracked asset.
func (s *Service) SwapHistory(ctx context.Context, address string) ([]swaps.Transaction, error) {
	if err := solana.ValidateAddress(address); err != nil {
		return nil, err
	}
	return s.swapStore.Get(ctx, address, func(ctx context.Context) ([]swaps.Transaction, error) {
		return s.deps.Swaps.History(ctx, address)
	})
}

// Prices returns quotes for symbols, or every known symbol when none are given.
func (s *Service) Prices(ctx context.Context, symbols ...string) price.Book {
	return s.deps.Prices.Book(ctx, symbols...)
}

// Invalidate drops every cached view of address. Invalidating a treasury
// account also drops the reserve summary.
func (s *Service) Invalidate(address string) {
	s.stakingStore.Invalidate(address)
	s.accountStore.Invalidate(address)
	s.dcaStore.Invalidate(address)
	s.swapStore.Invalidate(address)
	if _, ok := s.treasury[address]; ok {
		s.summaryStore.Invalidate(summaryKey)
	}
	s.logger.Debug().Str("address", address).Msg("invalidated cached views")
}

// RunJanitors purges expired entries of every store until ctx is done.
func (s *Service) RunJanitors(ctx context.Context, interval time.Duration) {
	janitors := []func(context.Context, time.Duration){
		s.stakingStore.RunJanitor,
		s.accountStore.RunJanitor,
		s.summaryStore.RunJanitor,
		s.dcaStore.RunJanitor,
		s.swapStore.RunJanitor,
	}
	var wg sync.WaitGroup
	for _, run := range janitors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx, interval)
		}()
	}
	wg.Wait()
}
