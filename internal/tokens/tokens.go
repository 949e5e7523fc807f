// Package tokens holds the known mint to symbol table used for display,
// pricing and the reserve allow-list.
package tokens

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known mints.
const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint       = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	PYTHMint       = "HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3"
	JUPMint        = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

// NativeSymbol is the display symbol of the native asset and its wrapped form.
const NativeSymbol = "SOL"

// Token describes a known mint.
type Token struct {
	Mint     string
	Symbol   string
	Decimals uint8
	// Stable tokens fall back to a 1:1 USD price.
	Stable bool
	// FallbackPrice is the static last-resort USD price.
	FallbackPrice float64
	// FeedID is the Pyth Hermes price feed identifier, hex without 0x.
	FeedID string
}

// DefaultTokens returns the built-in table. Fallback prices of volatile
// assets are approximate and only used when no live or last-known price exists.
func DefaultTokens() []Token {
	return []Token{
		{Mint: WrappedSOLMint, Symbol: NativeSymbol, Decimals: 9, FallbackPrice: 150,
			FeedID: "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"},
		{Mint: USDCMint, Symbol: "USDC", Decimals: 6, Stable: true, FallbackPrice: 1,
			FeedID: "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a"},
		{Mint: USDTMint, Symbol: "USDT", Decimals: 6, Stable: true, FallbackPrice: 1,
			FeedID: "2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b"},
		{Mint: PYTHMint, Symbol: "PYTH", Decimals: 6, FallbackPrice: 0.15,
			FeedID: "0bbf28e9a841a1cc788f6a361b17ca072d0ea3098a1e5df1c3922d06719579ff"},
		{Mint: JUPMint, Symbol: "JUP", Decimals: 6, FallbackPrice: 0.5,
			FeedID: "0a0408d619e9380abad35060f9192039ed5042fa6f82301d0e48bb52be830996"},
	}
}

// Registry is an immutable mint table with a designated tracked asset.
type Registry struct {
	byMint   map[string]Token
	bySymbol map[string]Token
	tracked  string
}

// NewRegistry builds a registry. trackedMint must be one of tokens.
func NewRegistry(trackedMint string, tokens ...Token) (*Registry, error) {
	r := &Registry{
		byMint:   make(map[string]Token, len(tokens)),
		bySymbol: make(map[string]Token, len(tokens)),
		tracked:  trackedMint,
	}
	for _, t := range tokens {
		if t.Mint == "" || t.Symbol == "" {
			return nil, fmt.Errorf("token %q/%q: mint and symbol are required", t.Mint, t.Symbol)
		}
		if _, dup := r.byMint[t.Mint]; dup {
			return nil, fmt.Errorf("duplicate mint %s", t.Mint)
		}
		if _, dup := r.bySymbol[t.Symbol]; dup {
			return nil, fmt.Errorf("duplicate symbol %s", t.Symbol)
		}
		r.byMint[t.Mint] = t
		r.bySymbol[t.Symbol] = t
	}
	if _, ok := r.byMint[trackedMint]; !ok {
		return nil, fmt.Errorf("tracked mint %s is not registered", trackedMint)
	}
	if _, ok := r.byMint[WrappedSOLMint]; !ok {
		return nil, fmt.Errorf("wrapped native mint %s is not registered", WrappedSOLMint)
	}
	return r, nil
}

// Default returns the built-in registry tracking PYTH.
func Default() *Registry {
	r, err := NewRegistry(PYTHMint, DefaultTokens()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the token for mint.
func (r *Registry) Lookup(mint string) (Token, bool) {
	t, ok := r.byMint[mint]
	return t, ok
}

// BySymbol returns the token declared with symbol.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	t, ok := r.bySymbol[symbol]
	return t, ok
}

// Symbol is a strict lookup of the symbol declared for mint.
func (r *Registry) Symbol(mint string) (string, bool) {
	t, ok := r.byMint[mint]
	return t.Symbol, ok
}

// DisplaySymbol returns the symbol of a known mint or the truncated mint.
func (r *Registry) DisplaySymbol(mint string) string {
	if s, ok := r.Symbol(mint); ok {
		return s
	}
	return Truncate(mint)
}

// Allowed reports whether mint is registered and declared with exactly symbol.
func (r *Registry) Allowed(mint, symbol string) bool {
	t, ok := r.byMint[mint]
	return ok && t.Symbol == symbol
}

// Tracked returns the tracked asset.
func (r *Registry) Tracked() Token {
	return r.byMint[r.tracked]
}

// Native returns the wrapped native token.
func (r *Registry) Native() Token {
	return r.byMint[WrappedSOLMint]
}

// IsWrappedNative reports whether mint is the wrapped native asset.
func (r *Registry) IsWrappedNative(mint string) bool {
	return mint == WrappedSOLMint
}

// Tokens returns every registered token ordered by symbol.
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.byMint))
	for _, t := range r.byMint {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns every registered symbol in order.
func (r *Registry) Symbols() []string {
	toks := r.Tokens()
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Symbol
	}
	return out
}

// Truncate shortens an address to its first and last four characters.
func Truncate(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) <= 11 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}

// ParseToken parses "SYMBOL:MINT:DECIMALS[:FALLBACK[:FEED]]" as used by
// the LENS_EXTRA_TOKENS setting.
func ParseToken(s string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 3 {
		return Token{}, fmt.Errorf("token %q: want SYMBOL:MINT:DECIMALS[:FALLBACK[:FEED]]", s)
	}
	var t Token
	t.Symbol = parts[0]
	t.Mint = parts[1]
	var dec uint
	if _, err := fmt.Sscanf(parts[2], "%d", &dec); err != nil || dec > 18 {
		return Token{}, fmt.Errorf("token %q: invalid decimals %q", s, parts[2])
	}
	t.Decimals = uint8(dec)
	if len(parts) > 3 && parts[3] != "" {
		if _, err := fmt.Sscanf(parts[3], "%g", &t.FallbackPrice); err != nil {
			return Token{}, fmt.Errorf("token %q: invalid fallback price %q", s, parts[3])
		}
	}
	if len(parts) > 4 {
		t.FeedID = strings.TrimPrefix(parts[4], "0x")
	}
	return t, nil
}
