package staking

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/derive"
)

// Stake record states. A record is created on first stake and kept for
// the life of the (owner, mint) pair; unstaking flips it back to
// StateUnstaked instead of deleting it.
const (
	StateUnstaked uint8 = 0
	StateStaked   uint8 = 1
)

// StakeRecordSize is the serialized size of a stake record.
const StakeRecordSize = 1 + 32 + 32 + 8

// ErrInvalidRecord marks stake record account data that does not
// decode.
var ErrInvalidRecord = errors.New("staking: invalid stake record data")

// StakeRecord tracks the custody state of one NFT for one owner. It
// lives at the derived address ("stake", owner, mint) under the
// staking program.
type StakeRecord struct {
	State    uint8
	Owner    types.Pubkey
	NftMint  types.Pubkey
	StakedAt int64
}

// IsStaked reports whether the record currently holds the NFT.
func (r *StakeRecord) IsStaked() bool {
	return r.State == StateStaked
}

// Serialize encodes the record: state, owner, mint, staked_at.
func (r *StakeRecord) Serialize() []byte {
	buf := make([]byte, StakeRecordSize)
	buf[0] = r.State
	copy(buf[1:33], r.Owner[:])
	copy(buf[33:65], r.NftMint[:])
	binary.LittleEndian.PutUint64(buf[65:73], uint64(r.StakedAt))
	return buf
}

// DeserializeStakeRecord decodes a serialized stake record.
func DeserializeStakeRecord(data []byte) (*StakeRecord, error) {
	if len(data) != StakeRecordSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidRecord, len(data))
	}
	if data[0] != StateUnstaked && data[0] != StateStaked {
		return nil, fmt.Errorf("%w: unknown state %d", ErrInvalidRecord, data[0])
	}

	r := &StakeRecord{State: data[0]}
	copy(r.Owner[:], data[1:33])
	copy(r.NftMint[:], data[33:65])
	r.StakedAt = int64(binary.LittleEndian.Uint64(data[65:73]))
	return r, nil
}

// GetStakeRecord reads the stake record for (owner, mint) from the
// store, for callers outside the execution path (RPC).
func GetStakeRecord(db accounts.DB, owner, nftMint types.Pubkey) (*StakeRecord, error) {
	addr, _, err := derive.StakeRecord(owner, nftMint)
	if err != nil {
		return nil, err
	}
	acc, err := db.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc.Owner != types.StakingProgramAddr {
		return nil, ErrInvalidRecord
	}
	return DeserializeStakeRecord(acc.Data)
}
