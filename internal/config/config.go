// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"treasury-lens/internal/cache"
	"treasury-lens/internal/fetch"
	"treasury-lens/internal/reserve"
	"treasury-lens/internal/snapshot"
	"treasury-lens/internal/solana"
	"treasury-lens/internal/staking"
	"treasury-lens/internal/tokens"
)

// Default endpoints.
const (
	DefaultRPCEndpoint       = "https://api.mainnet-beta.solana.com"
	DefaultWSEndpoint        = "wss://api.mainnet-beta.solana.com"
	DefaultHermesEndpoint    = "https://hermes.pyth.network"
	DefaultJupiterEndpoint   = "https://lite-api.jup.ag"
	DefaultRecurringEndpoint = "https://lite-api.jup.ag"
	DefaultHTTPAddr          = ":8080"
)

// Config holds every setting of the binaries.
type Config struct {
	RPCEndpoints       []string
	WSEndpoint         string
	WSCommitment       string
	HermesEndpoints    []string
	JupiterEndpoints   []string
	RecurringEndpoints []string

	TrackedMint string
	ExtraTokens []tokens.Token
	Treasury    []reserve.Account

	StakingProgram  string
	StakingDecimals uint8
	SwapPrograms    []string

	Cache        cache.Config
	SummaryCache cache.Config

	CallTimeout time.Duration
	BaseBackoff time.Duration
	RPCRate     float64
	RPCBurst    int

	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	HTTPAddr         string
	SnapshotInterval time.Duration
	LogLevel         string
}

// LoadEnvFiles loads the given .env files, or ".env" when none are given.
// Missing files are ignored and variables already set are kept.
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Load reads the LENS_* environment variables. Unset or unparsable numeric
// settings take their defaults; malformed lists are errors.
func Load() (Config, error) {
	cfg := Config{
		RPCEndpoints:       loadListEnv("LENS_RPC_ENDPOINTS", []string{DefaultRPCEndpoint}),
		WSEndpoint:         loadStringEnv("LENS_WS_ENDPOINT", DefaultWSEndpoint),
		WSCommitment:       loadStringEnv("LENS_WS_COMMITMENT", "confirmed"),
		HermesEndpoints:    loadListEnv("LENS_HERMES_ENDPOINTS", []string{DefaultHermesEndpoint}),
		JupiterEndpoints:   loadListEnv("LENS_JUPITER_ENDPOINTS", []string{DefaultJupiterEndpoint}),
		RecurringEndpoints: loadListEnv("LENS_RECURRING_ENDPOINTS", []string{DefaultRecurringEndpoint}),

		TrackedMint:     loadStringEnv("LENS_TRACKED_MINT", tokens.PYTHMint),
		StakingProgram:  loadStringEnv("LENS_STAKING_PROGRAM", staking.DefaultProgramID),
		StakingDecimals: uint8(loadIntEnv("LENS_STAKING_DECIMALS", 6)),
		SwapPrograms:    loadListEnv("LENS_SWAP_PROGRAMS", nil),

		Cache: cache.Config{
			FreshTTL:   loadDurationEnv("LENS_CACHE_FRESH_TTL", cache.DefaultFreshTTL),
			StaleTTL:   loadDurationEnv("LENS_CACHE_STALE_TTL", cache.DefaultStaleTTL),
			MaxEntries: loadIntEnv("LENS_CACHE_MAX_ENTRIES", cache.DefaultMaxEntries),
		},

		CallTimeout: loadDurationEnv("LENS_CALL_TIMEOUT", fetch.DefaultTimeout),
		BaseBackoff: loadDurationEnv("LENS_BASE_BACKOFF", fetch.DefaultBaseDelay),
		RPCRate:     loadFloatEnv("LENS_RPC_RPS", 10),
		RPCBurst:    loadIntEnv("LENS_RPC_BURST", 20),

		PostgresDSN:   os.Getenv("LENS_POSTGRES_DSN"),
		ClickhouseDSN: os.Getenv("LENS_CLICKHOUSE_DSN"),
		UseMemory:     loadBoolEnv("LENS_USE_MEMORY", false),

		HTTPAddr:         loadStringEnv("LENS_HTTP_ADDR", DefaultHTTPAddr),
		SnapshotInterval: loadDurationEnv("LENS_SNAPSHOT_INTERVAL", snapshot.DefaultInterval),
		LogLevel:         loadStringEnv("LENS_LOG_LEVEL", "info"),
	}

	cfg.SummaryCache = cfg.Cache
	cfg.SummaryCache.FreshTTL = loadDurationEnv("LENS_SUMMARY_FRESH_TTL", cfg.Cache.FreshTTL)

	var err error
	if cfg.Treasury, err = ParseTreasury(os.Getenv("LENS_TREASURY")); err != nil {
		return Config{}, err
	}
	for _, entry := range loadListEnv("LENS_EXTRA_TOKENS", nil) {
		tok, err := tokens.ParseToken(entry)
		if err != nil {
			return Config{}, fmt.Errorf("LENS_EXTRA_TOKENS: %w", err)
		}
		cfg.ExtraTokens = append(cfg.ExtraTokens, tok)
	}
	return cfg, nil
}

// Registry builds the token registry from the built-in table, the extra
// tokens, and the tracked mint.
func (c Config) Registry() (*tokens.Registry, error) {
	all := append(tokens.DefaultTokens(), c.ExtraTokens...)
	return tokens.NewRegistry(c.TrackedMint, all...)
}

// TreasuryAddresses returns the addresses of the treasury accounts.
func (c Config) TreasuryAddresses() []string {
	out := make([]string, len(c.Treasury))
	for i, a := range c.Treasury {
		out[i] = a.Address
	}
	return out
}

// ParseTreasury parses a comma-separated list of "name:address[:dao]".
func ParseTreasury(s string) ([]reserve.Account, error) {
	var out []reserve.Account
	seen := make(map[string]bool)
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("treasury entry %q: want name:address[:dao]", entry)
		}
		acct := reserve.Account{Name: parts[0], Address: parts[1]}
		if err := solana.ValidateAddress(acct.Address); err != nil {
			return nil, fmt.Errorf("treasury entry %q: %w", entry, err)
		}
		if len(parts) == 3 {
			if parts[2] != "dao" {
				return nil, fmt.Errorf("treasury entry %q: unknown flag %q", entry, parts[2])
			}
			acct.DAO = true
		}
		if seen[acct.Address] {
			return nil, fmt.Errorf("treasury entry %q: duplicate address", entry)
		}
		seen[acct.Address] = true
		out = append(out, acct)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadStringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func loadListEnv(key string, fallback []string) []string {
	if v := splitList(os.Getenv(key)); len(v) > 0 {
		return v
	}
	return fallback
}

func loadIntEnv(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	num, err := strconv.Atoi(value)
	if err != nil || num < 0 {
		return fallback
	}
	return num
}

func loadFloatEnv(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	num, err := strconv.ParseFloat(value, 64)
	if err != nil || num < 0 {
		return fallback
	}
	return num
}

func loadBoolEnv(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func loadDurationEnv(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	dur, err := time.ParseDuration(value)
	if err != nil || dur < 0 {
		return fallback
	}
	return dur
}
