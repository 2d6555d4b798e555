// Package token implements the fungible/non-fungible token sub-ledger.
//
// The package mirrors the SPL Token program's account model: a Mint
// account per token type and a TokenAccount per (owner, mint) holding.
// Account data layouts are byte-compatible with SPL Token so external
// tooling can parse them: mints are 82 bytes, token accounts 165 bytes,
// with COption-encoded (4-byte tag + 32-byte value) optional pubkeys.
//
// The staking program consumes this package through its capability
// interface; it never reaches into layouts directly.
package token

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/x1-vault/internal/types"
)

// Serialized sizes.
const (
	MintSize         = 82  // 4+32 + 8 + 1 + 1 + 4+32
	TokenAccountSize = 165 // 32 + 32 + 8 + 4+32 + 1 + 4+8 + 8 + 4+32
)

// Token account states.
const (
	StateUninitialized uint8 = iota
	StateInitialized
	StateFrozen
)

var (
	// ErrInvalidState is returned when stored token state is malformed.
	ErrInvalidState = errors.New("invalid token state")
)

// Mint holds the state of one token type.
type Mint struct {
	// MintAuthority may mint new supply. None means supply is fixed
	// forever.
	MintAuthority *types.Pubkey

	// Supply is the total circulating amount, in base units.
	Supply uint64

	// Decimals is the display scaling; 0 for NFTs.
	Decimals uint8

	// Initialized reports whether the mint has been set up.
	Initialized bool

	// FreezeAuthority may freeze/thaw token accounts of this mint.
	// None means accounts of this mint can never be frozen.
	FreezeAuthority *types.Pubkey
}

// Serialize encodes the mint into its 82-byte layout.
func (m *Mint) Serialize() []byte {
	buf := make([]byte, MintSize)
	offset := putOptionPubkey(buf, 0, m.MintAuthority)

	binary.LittleEndian.PutUint64(buf[offset:], m.Supply)
	offset += 8

	buf[offset] = m.Decimals
	offset++

	if m.Initialized {
		buf[offset] = 1
	}
	offset++

	putOptionPubkey(buf, offset, m.FreezeAuthority)
	return buf
}

// DeserializeMint decodes a mint from its 82-byte layout.
func DeserializeMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, ErrInvalidState
	}

	m := &Mint{}
	var offset int
	m.MintAuthority, offset = getOptionPubkey(data, 0)

	m.Supply = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	m.Decimals = data[offset]
	offset++

	m.Initialized = data[offset] != 0
	offset++

	m.FreezeAuthority, _ = getOptionPubkey(data, offset)
	return m, nil
}

// TokenAccount holds one owner's balance of one mint.
type TokenAccount struct {
	// Mint is the token type this account holds.
	Mint types.Pubkey

	// Owner may transfer, delegate, and close the account.
	Owner types.Pubkey

	// Amount is the balance in base units.
	Amount uint64

	// Delegate, when set, may transfer up to DelegatedAmount.
	Delegate *types.Pubkey

	// State is one of StateUninitialized, StateInitialized, StateFrozen.
	State uint8

	// DelegatedAmount is the remaining delegate allowance.
	DelegatedAmount uint64

	// CloseAuthority, when set, may close the account instead of Owner.
	CloseAuthority *types.Pubkey
}

// IsFrozen reports whether the account is frozen.
func (a *TokenAccount) IsFrozen() bool {
	return a.State == StateFrozen
}

// IsInitialized reports whether the account has been set up.
func (a *TokenAccount) IsInitialized() bool {
	return a.State != StateUninitialized
}

// Serialize encodes the token account into its 165-byte layout.
func (a *TokenAccount) Serialize() []byte {
	buf := make([]byte, TokenAccountSize)
	offset := 0

	copy(buf[offset:], a.Mint[:])
	offset += 32

	copy(buf[offset:], a.Owner[:])
	offset += 32

	binary.LittleEndian.PutUint64(buf[offset:], a.Amount)
	offset += 8

	offset = putOptionPubkey(buf, offset, a.Delegate)

	buf[offset] = a.State
	offset++

	// isNative option: always none, native SOL wrapping is not used.
	offset += 12

	binary.LittleEndian.PutUint64(buf[offset:], a.DelegatedAmount)
	offset += 8

	putOptionPubkey(buf, offset, a.CloseAuthority)
	return buf
}

// DeserializeTokenAccount decodes a token account from its 165-byte layout.
func DeserializeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountSize {
		return nil, ErrInvalidState
	}

	a := &TokenAccount{}
	offset := 0

	copy(a.Mint[:], data[offset:])
	offset += 32

	copy(a.Owner[:], data[offset:])
	offset += 32

	a.Amount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	a.Delegate, offset = getOptionPubkey(data, offset)

	a.State = data[offset]
	offset++

	// Skip the unused isNative option.
	offset += 12

	a.DelegatedAmount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	a.CloseAuthority, _ = getOptionPubkey(data, offset)
	return a, nil
}

// putOptionPubkey writes a COption<Pubkey> (4-byte tag + 32-byte value)
// and returns the next offset.
func putOptionPubkey(buf []byte, offset int, p *types.Pubkey) int {
	if p != nil {
		binary.LittleEndian.PutUint32(buf[offset:], 1)
		copy(buf[offset+4:], p[:])
	}
	return offset + 36
}

// getOptionPubkey reads a COption<Pubkey> and returns it with the next
// offset.
func getOptionPubkey(data []byte, offset int) (*types.Pubkey, int) {
	if binary.LittleEndian.Uint32(data[offset:]) == 0 {
		return nil, offset + 36
	}
	var p types.Pubkey
	copy(p[:], data[offset+4:])
	return &p, offset + 36
}
