package solana

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"treasury-lens/internal/fetch"
)

// PublicKeyLength is the size of a decoded Solana address.
const PublicKeyLength = 32

// ValidateAddress checks that s is a base58-encoded 32-byte public key.
// Failures are KindInvalidInput.
func ValidateAddress(s string) error {
	_, err := DecodeAddress(s)
	return err
}

// DecodeAddress decodes a base58 public key.
func DecodeAddress(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fetch.Errorf(fetch.KindInvalidInput, "address is required")
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fetch.Errorf(fetch.KindInvalidInput, "invalid address %q: not base58", s)
	}
	if len(b) != PublicKeyLength {
		return nil, fetch.Errorf(fetch.KindInvalidInput, "invalid address %q: %d bytes, want %d", s, len(b), PublicKeyLength)
	}
	return b, nil
}

// FindProgramAddress derives a program derived address and its bump seed.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodeAddress(programID)
	if err != nil {
		return "", 0, fmt.Errorf("program id: %w", err)
	}

	// PDA derivation algorithm:
	// 1. Concatenate all seeds with bump
	// 2. Append program ID and "ProgramDerivedAddress" marker
	// 3. SHA256 hash
	// 4. Find bump seed that results in off-curve point
	for bump := 255; bump >= 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}

	return "", 0, fmt.Errorf("no viable bump seed for program %s", programID)
}

func isOnCurve(point []byte) bool {
	if len(point) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
