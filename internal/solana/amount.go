package solana

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsToSOL converts lamports to whole SOL.
func LamportsToSOL(lamports uint64) float64 {
	return FromBaseUnits(lamports, 9)
}

// FromBaseUnits converts an integer amount in base units to whole tokens.
func FromBaseUnits(v uint64, decimals uint8) float64 {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -int32(decimals)).InexactFloat64()
}

// baseUnits parses a token amount into base units. Malformed amounts fall
// back to the UI string, then to zero.
func baseUnits(a TokenAmount) decimal.Decimal {
	if d, err := decimal.NewFromString(a.Amount); err == nil {
		return d
	}
	if d, err := decimal.NewFromString(a.UIAmountString); err == nil {
		return d.Shift(int32(a.Decimals))
	}
	return decimal.Zero
}

// UIAmount converts a token amount to whole tokens.
func UIAmount(a TokenAmount) float64 {
	return baseUnits(a).Shift(-int32(a.Decimals)).InexactFloat64()
}
