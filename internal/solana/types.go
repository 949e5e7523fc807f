package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// MemcmpFilter matches account data at Offset against base58 Bytes.
type MemcmpFilter struct {
	Offset uint64
	Bytes  string
}

// ProgramAccountsOpts defines filters for getProgramAccounts.
type ProgramAccountsOpts struct {
	Memcmp   []MemcmpFilter
	DataSize uint64 // 0 means no size filter
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}
