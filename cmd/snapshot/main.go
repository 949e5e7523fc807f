// Package main writes one snapshot point for the current hour and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"treasury-lens/internal/app"
	"treasury-lens/internal/config"
	"treasury-lens/internal/observability"
	"treasury-lens/internal/storage"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		l := observability.NewLogger("snapshot")
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (optional snapshot sink)")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage (dry run)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall run timeout")

	flag.Parse()

	cfg.PostgresDSN = *postgresDSN
	cfg.ClickhouseDSN = *clickhouseDSN
	cfg.UseMemory = *useMemory

	logger := observability.NewLoggerWithLevel("snapshot", observability.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	p, err := run(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("snapshot failed")
		os.Exit(1)
	}

	logger.Info().
		Str("bucket", p.Bucket).
		Float64("reserve_value", p.ReserveValue).
		Float64("tracked_held", p.TrackedHeld).
		Float64("total_staked", p.TotalStaked).
		Msg("snapshot complete")
}

// run builds the components, writes one point and releases them.
func run(ctx context.Context, cfg config.Config) (storage.SnapshotPoint, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return storage.SnapshotPoint{}, fmt.Errorf("build components: %w", err)
	}
	defer a.Close()

	return a.SnapshotJob().RunOnce(ctx)
}
