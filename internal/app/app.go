// Package app wires the service components from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"treasury-lens/internal/config"
	"treasury-lens/internal/dashboard"
	"treasury-lens/internal/dca"
	"treasury-lens/internal/fetch"
	"treasury-lens/internal/observability"
	"treasury-lens/internal/price"
	"treasury-lens/internal/reserve"
	"treasury-lens/internal/snapshot"
	"treasury-lens/internal/solana"
	"treasury-lens/internal/staking"
	"treasury-lens/internal/storage"
	chstore "treasury-lens/internal/storage/clickhouse"
	"treasury-lens/internal/storage/memory"
	"treasury-lens/internal/storage/migrations"
	pgstore "treasury-lens/internal/storage/postgres"
	"treasury-lens/internal/swaps"
	"treasury-lens/internal/tokens"
)

// App holds the wired components.
type App struct {
	Config    config.Config
	Registry  *tokens.Registry
	Ledger    *solana.Ledger
	Dashboard *dashboard.Service
	Snapshots storage.SnapshotSink
	Wallets   storage.WalletStore

	level   zerolog.Level
	closers []func()
}

// New builds every component. Storage connections are opened and migrated
// unless cfg.UseMemory is set.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	level := observability.ParseLogLevel(cfg.LogLevel)
	a := &App{Config: cfg, level: level}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("token registry: %w", err)
	}
	a.Registry = registry

	coord := fetch.NewCoordinator(
		fetch.WithBackoff(fetch.LinearBackoff(cfg.BaseBackoff)),
		fetch.WithCallTimeout(cfg.CallTimeout),
		fetch.WithLogger(a.Logger("fetch")),
	)

	rpcPool, err := fetch.NewPool("rpc", cfg.RPCEndpoints...)
	if err != nil {
		return nil, err
	}
	rpcHTTP := fetch.NewHTTPClient(cfg.CallTimeout, cfg.RPCRate, cfg.RPCBurst)
	a.Ledger = solana.NewLedger(rpcPool, coord, rpcHTTP, a.Logger("ledger"))

	// Reward records are retried on a short constant delay.
	rewardCoord := coord.With(fetch.WithBackoff(fetch.ConstantBackoff(staking.DefaultRewardDelay)))
	rewardLedger := solana.NewLedger(rpcPool, rewardCoord, rpcHTTP, a.Logger("ledger"))

	resolver, err := a.priceResolver(coord)
	if err != nil {
		return nil, err
	}

	source, err := staking.NewRPCSource(a.Ledger, rewardLedger, staking.RPCSourceConfig{
		ProgramID: cfg.StakingProgram,
		Decimals:  cfg.StakingDecimals,
	})
	if err != nil {
		return nil, fmt.Errorf("staking source: %w", err)
	}

	recurringPool, err := fetch.NewPool("recurring", cfg.RecurringEndpoints...)
	if err != nil {
		return nil, err
	}
	orders := dca.NewClient(recurringPool, coord, dca.WithHTTPClient(fetch.NewHTTPClient(cfg.CallTimeout, 0, 0)))

	summaryCache := cfg.SummaryCache
	a.Dashboard = dashboard.New(dashboard.Deps{
		Registry: registry,
		Prices:   resolver,
		Valuer:   reserve.NewValuer(a.Ledger, registry, a.Logger("reserve")),
		Staking:  staking.NewAssembler(source, a.Logger("staking")),
		Orders:   orders,
		Swaps:    swaps.NewAssembler(a.Ledger, registry, swaps.Config{Programs: cfg.SwapPrograms}, a.Logger("swaps")),
	}, dashboard.Config{
		Treasury:     cfg.Treasury,
		Cache:        cfg.Cache,
		SummaryCache: &summaryCache,
	}, a.Logger("dashboard"))

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Logger returns a component logger at the configured level.
func (a *App) Logger(component string) zerolog.Logger {
	return observability.NewLoggerWithLevel(component, a.level)
}

// SnapshotJob returns the hourly snapshot job over the app's stores.
func (a *App) SnapshotJob() *snapshot.Job {
	return snapshot.NewJob(snapshot.JobOptions{
		Reserve:  a.Dashboard,
		Staking:  a.Dashboard,
		Wallets:  a.Wallets,
		Sink:     a.Snapshots,
		Registry: a.Registry,
		Logger:   a.Logger("snapshot"),
	})
}

// Close releases storage connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) priceResolver(coord *fetch.Coordinator) (*price.Resolver, error) {
	feedHTTP := price.WithFeedHTTPClient(fetch.NewHTTPClient(a.Config.CallTimeout, 0, 0))

	hermesPool, err := fetch.NewPool("hermes", a.Config.HermesEndpoints...)
	if err != nil {
		return nil, err
	}
	jupiterPool, err := fetch.NewPool("jupiter", a.Config.JupiterEndpoints...)
	if err != nil {
		return nil, err
	}

	feeds := []price.Feed{
		price.NewHermesClient(hermesPool, coord, feedHTTP),
		price.NewJupiterClient(jupiterPool, coord, feedHTTP),
	}
	return price.NewResolver(a.Registry, feeds, price.WithLogger(a.Logger("price"))), nil
}

// openStores picks memory stores, or Postgres for wallets and snapshots
// with ClickHouse taking over snapshots when its DSN is set.
func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.UseMemory {
		a.Snapshots = memory.NewSnapshotSink()
		a.Wallets = memory.NewWalletStore()
		return nil
	}
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("LENS_POSTGRES_DSN is required (set LENS_USE_MEMORY=true for in-memory storage)")
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)
	if err := migrations.RunPostgresMigrations(ctx, pool, a.Logger("migrations")); err != nil {
		return err
	}

	pgLogger := a.Logger("postgres")
	wallets := pgstore.NewWalletStore(pool)
	wallets.OnError = func(err error) {
		pgLogger.Warn().Err(err).Msg("wallet notification")
	}
	a.Wallets = wallets
	a.Snapshots = pgstore.NewSnapshotSink(pool)

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, a.Logger("migrations"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { conn.Close() })
		a.Snapshots = chstore.NewSnapshotSink(conn)
	}
	return nil
}
