package storage

import "errors"

// Storage errors.
var (
	// ErrInvalidInput is returned when a record fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateKey is returned when a wallet list repeats an address.
	ErrDuplicateKey = errors.New("duplicate key")
)
