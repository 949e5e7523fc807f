package staking

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/ledger"
	"treasury-lens/internal/solana"
)

const (
	// DefaultProgramID is the staking program.
	DefaultProgramID = "pytS9TjG1qyAZypk7n8rw8gfW9sUaqqYyMhJQ4E7JCQ"

	// DefaultRewardDelay is the constant delay between reward endpoint attempts.
	DefaultRewardDelay = 100 * time.Millisecond
)

// ErrMalformed is returned when account data does not match its layout.
var ErrMalformed = errors.New("malformed staking account")

// Account layouts. Every account starts with an 8-byte discriminator and
// stores integers little-endian.
//
// positions: owner pubkey(32) | count u32 | count * (amount u64 | delegate pubkey(32) | activation epoch u64)
// pool:      epoch u64 | count u32 | count * (delegate pubkey(32) | stake u64)
// target:    locked u64 | epoch u64 | last updated i64
// rewards:   claimable u64 | last claimed epoch u64
const (
	discriminatorLen   = 8
	positionOwnerOff   = discriminatorLen
	positionCountOff   = positionOwnerOff + solana.PublicKeyLength
	positionEntriesOff = positionCountOff + 4
	positionEntryLen   = 8 + solana.PublicKeyLength + 8

	poolEpochOff   = discriminatorLen
	poolCountOff   = poolEpochOff + 8
	poolEntriesOff = poolCountOff + 4
	poolEntryLen   = solana.PublicKeyLength + 8

	targetLen  = discriminatorLen + 24
	rewardsLen = discriminatorLen + 16
)

var (
	seedPool    = []byte("stake_pool")
	seedTarget  = []byte("target")
	seedVoting  = []byte("voting")
	seedCustody = []byte("custody")
	seedRewards = []byte("rewards")
)

// RPCSourceConfig configures an RPCSource.
type RPCSourceConfig struct {
	ProgramID string
	// Decimals of the staked token.
	Decimals uint8
}

// RPCSource reads staking accounts from the ledger.
type RPCSource struct {
	accounts ledger.AccountReader
	rewards  ledger.AccountReader
	program  string
	decimals uint8

	poolAddr    string
	targetAddr  string
	custodyAddr string
}

var _ Source = (*RPCSource)(nil)

// NewRPCSource creates a source over accounts. Reward records are read
// through rewards, which usually runs its own endpoint loop; nil means accounts.
func NewRPCSource(accounts, rewards ledger.AccountReader, cfg RPCSourceConfig) (*RPCSource, error) {
	if cfg.ProgramID == "" {
		cfg.ProgramID = DefaultProgramID
	}
	if rewards == nil {
		rewards = accounts
	}
	s := &RPCSource{accounts: accounts, rewards: rewards, program: cfg.ProgramID, decimals: cfg.Decimals}

	var err error
	if s.poolAddr, _, err = solana.FindProgramAddress([][]byte{seedPool}, cfg.ProgramID); err != nil {
		return nil, fmt.Errorf("pool address: %w", err)
	}
	if s.targetAddr, _, err = solana.FindProgramAddress([][]byte{seedTarget, seedVoting}, cfg.ProgramID); err != nil {
		return nil, fmt.Errorf("target address: %w", err)
	}
	if s.custodyAddr, _, err = solana.FindProgramAddress([][]byte{seedCustody}, cfg.ProgramID); err != nil {
		return nil, fmt.Errorf("custody address: %w", err)
	}
	return s, nil
}

// PoolAddress returns the derived pool account.
func (s *RPCSource) PoolAddress() string { return s.poolAddr }

// TargetAddress returns the derived target account.
func (s *RPCSource) TargetAddress() string { return s.targetAddr }

// CustodyAddress returns the derived reward custody token account.
func (s *RPCSource) CustodyAddress() string { return s.custodyAddr }

// RewardsAddress derives the reward record of a position account.
func (s *RPCSource) RewardsAddress(positionAccount string) (string, error) {
	pos, err := solana.DecodeAddress(positionAccount)
	if err != nil {
		return "", err
	}
	addr, _, err := solana.FindProgramAddress([][]byte{seedRewards, pos}, s.program)
	return addr, err
}

// PositionAccounts lists the program accounts whose owner field is owner.
func (s *RPCSource) PositionAccounts(ctx context.Context, owner string) ([]string, error) {
	if err := solana.ValidateAddress(owner); err != nil {
		return nil, err
	}
	accts, err := s.accounts.GetProgramAccounts(ctx, s.program, []ledger.Memcmp{{Offset: positionOwnerOff, Bytes: owner}}, 0)
	if err != nil {
		return nil, fmt.Errorf("position accounts of %s: %w", owner, err)
	}
	out := make([]string, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Address)
	}
	return out, nil
}

// Positions decodes a position account.
func (s *RPCSource) Positions(ctx context.Context, account string) ([]Position, error) {
	data, err := s.accounts.GetAccountData(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("positions %s: %w", account, err)
	}
	return s.decodePositions(data)
}

func (s *RPCSource) decodePositions(data []byte) ([]Position, error) {
	if len(data) < positionEntriesOff {
		return nil, fmt.Errorf("%w: positions account is %d bytes", ErrMalformed, len(data))
	}
	count := int(binary.LittleEndian.Uint32(data[positionCountOff:]))
	if len(data) < positionEntriesOff+count*positionEntryLen {
		return nil, fmt.Errorf("%w: %d positions do not fit in %d bytes", ErrMalformed, count, len(data))
	}

	out := make([]Position, 0, count)
	for i := 0; i < count; i++ {
		off := positionEntriesOff + i*positionEntryLen
		out = append(out, Position{
			Amount:          solana.FromBaseUnits(binary.LittleEndian.Uint64(data[off:]), s.decimals),
			Delegate:        base58.Encode(data[off+8 : off+8+solana.PublicKeyLength]),
			ActivationEpoch: binary.LittleEndian.Uint64(data[off+8+solana.PublicKeyLength:]),
		})
	}
	return out, nil
}

// Pool decodes the staking pool account.
func (s *RPCSource) Pool(ctx context.Context) (PoolData, error) {
	data, err := s.accounts.GetAccountData(ctx, s.poolAddr)
	if err != nil {
		return PoolData{}, fmt.Errorf("pool: %w", err)
	}
	if len(data) < poolEntriesOff {
		return PoolData{}, fmt.Errorf("%w: pool account is %d bytes", ErrMalformed, len(data))
	}
	count := int(binary.LittleEndian.Uint32(data[poolCountOff:]))
	if len(data) < poolEntriesOff+count*poolEntryLen {
		return PoolData{}, fmt.Errorf("%w: %d delegates do not fit in %d bytes", ErrMalformed, count, len(data))
	}

	pool := PoolData{
		Epoch:     binary.LittleEndian.Uint64(data[poolEpochOff:]),
		Delegates: make([]PoolDelegate, 0, count),
	}
	for i := 0; i < count; i++ {
		off := poolEntriesOff + i*poolEntryLen
		pool.Delegates = append(pool.Delegates, PoolDelegate{
			Delegate: base58.Encode(data[off : off+solana.PublicKeyLength]),
			Stake:    solana.FromBaseUnits(binary.LittleEndian.Uint64(data[off+solana.PublicKeyLength:]), s.decimals),
		})
	}
	return pool, nil
}

// Target decodes the governance target account.
func (s *RPCSource) Target(ctx context.Context) (TargetData, error) {
	data, err := s.accounts.GetAccountData(ctx, s.targetAddr)
	if err != nil {
		return TargetData{}, fmt.Errorf("target: %w", err)
	}
	if len(data) < targetLen {
		return TargetData{}, fmt.Errorf("%w: target account is %d bytes", ErrMalformed, len(data))
	}
	return TargetData{
		Locked:      solana.FromBaseUnits(binary.LittleEndian.Uint64(data[discriminatorLen:]), s.decimals),
		Epoch:       binary.LittleEndian.Uint64(data[discriminatorLen+8:]),
		LastUpdated: int64(binary.LittleEndian.Uint64(data[discriminatorLen+16:])),
	}, nil
}

// RewardCustody returns the balance of the reward custody token account.
func (s *RPCSource) RewardCustody(ctx context.Context) (float64, error) {
	bal, err := s.accounts.GetTokenAccountBalance(ctx, s.custodyAddr)
	if err != nil {
		return 0, fmt.Errorf("reward custody: %w", err)
	}
	return bal.Amount, nil
}

// ClaimableRewards reads the reward record of a position account. A position
// without a record has nothing to claim.
func (s *RPCSource) ClaimableRewards(ctx context.Context, account string) (float64, error) {
	addr, err := s.RewardsAddress(account)
	if err != nil {
		return 0, err
	}
	data, err := s.rewards.GetAccountData(ctx, addr)
	if fetch.KindOf(err) == fetch.KindNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rewards of %s: %w", account, err)
	}
	if len(data) < rewardsLen {
		return 0, fmt.Errorf("%w: rewards account is %d bytes", ErrMalformed, len(data))
	}
	return solana.FromBaseUnits(binary.LittleEndian.Uint64(data[discriminatorLen:]), s.decimals), nil
}
