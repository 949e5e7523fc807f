// Package main runs the dashboard API server together with its background
// components:
// - HTTP API (chi): dashboard views, saved wallets, snapshots, /metrics
// - Snapshot job (scheduled): hourly aggregate figures
// - Account watcher (continuous): WebSocket changes → cache invalidation
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/app"
	"treasury-lens/internal/config"
	"treasury-lens/internal/httpapi"
	"treasury-lens/internal/observability"
	"treasury-lens/internal/solana"
	"treasury-lens/internal/watch"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load .env file if exists
	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		l := observability.NewLogger("server")
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	// Parse flags (env vars as defaults)
	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP listen address for the API and /metrics")
	wsEndpoint := flag.String("ws-endpoint", cfg.WSEndpoint, "Solana WebSocket endpoint (empty disables account watching)")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional snapshot sink)")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	snapshotInterval := flag.Duration("snapshot-interval", cfg.SnapshotInterval, "Snapshot job interval (0 disables)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Parse()

	cfg.HTTPAddr = *httpAddr
	cfg.WSEndpoint = *wsEndpoint
	cfg.PostgresDSN = *postgresDSN
	cfg.ClickhouseDSN = *clickhouseDSN
	cfg.UseMemory = *useMemory
	cfg.SnapshotInterval = *snapshotInterval
	cfg.LogLevel = *logLevel

	logger := observability.NewLoggerWithLevel("server", observability.ParseLogLevel(cfg.LogLevel))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build components")
	}
	defer a.Close()

	logger.Info().
		Strs("rpc", cfg.RPCEndpoints).
		Int("treasury_accounts", len(cfg.Treasury)).
		Str("tracked", a.Registry.Tracked().Symbol).
		Bool("memory", cfg.UseMemory).
		Msg("starting server")

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error().Dur("timeout", shutdownTimeout).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, a, logger)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}

// run starts every component and blocks until ctx is done or the HTTP
// server fails.
func run(ctx context.Context, a *app.App, logger zerolog.Logger) error {
	cfg := a.Config
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Dashboard.RunJanitors(ctx, janitorInterval)
	}()

	if cfg.SnapshotInterval > 0 {
		job := a.SnapshotJob()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = job.Run(ctx, cfg.SnapshotInterval)
		}()
	}

	if cfg.WSEndpoint != "" {
		reconnects := make(chan struct{}, 1)
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = a.Logger("ws")
		wsCfg.OnReconnect = func() {
			select {
			case reconnects <- struct{}{}:
			default:
			}
		}
		ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &wsCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket unavailable, account watching disabled")
		} else {
			defer ws.Close()
			w := watch.New(watch.Options{
				WS:          ws,
				Invalidator: a.Dashboard,
				Wallets:     a.Wallets,
				Treasury:    cfg.TreasuryAddresses(),
				Commitment:  cfg.WSCommitment,
				Reconnects:  reconnects,
				Logger:      a.Logger("watch"),
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = w.Run(ctx)
			}()
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Dashboard: a.Dashboard,
			Snapshots: a.Snapshots,
			Wallets:   a.Wallets,
			Logger:    a.Logger("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown")
	}

	stop()
	wg.Wait()
	return runErr
}
