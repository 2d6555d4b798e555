// Package accounts provides hash computation for state verification.
package accounts

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fortiblox/x1-vault/internal/types"
)

// HashComputer provides accounts hash computation.
//
// Three hashes are maintained:
//
//  1. Account hash: SHA256 of an individual account's fields,
//     SHA256(lamports || rent_epoch || data || executable || owner || pubkey).
//  2. Delta hash: binary Merkle root over the accounts modified by one
//     transaction, sorted by pubkey.
//  3. State hash: rolling commitment over the applied transaction
//     sequence, SHA256(parent_state_hash || delta_hash || sequence).
//
// The node records a state hash after every applied transaction so two
// nodes that applied the same requests in the same order can compare a
// single 32-byte value.
type HashComputer struct {
	db DB
}

// NewHashComputer creates a new hash computer with the given database.
func NewHashComputer(db DB) *HashComputer {
	return &HashComputer{db: db}
}

// ComputeAccountHash computes the hash of a single account:
// SHA256(lamports || rent_epoch || data || executable || owner || pubkey).
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	size := 8 + 8 + len(account.Data) + 1 + 32 + 32
	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], account.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], account.RentEpoch)
	offset += 8

	copy(buf[offset:], account.Data)
	offset += len(account.Data)

	if account.Executable {
		buf[offset] = 1
	}
	offset++

	copy(buf[offset:], account.Owner[:])
	offset += 32

	copy(buf[offset:], pubkey[:])

	return sha256.Sum256(buf)
}

// ComputeAccountHash computes the hash of an account via the HashComputer.
func (h *HashComputer) ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	return ComputeAccountHash(pubkey, account)
}

// AccountHashEntry pairs a pubkey with its hash for sorting.
type AccountHashEntry struct {
	Pubkey types.Pubkey
	Hash   types.Hash
}

// ComputeAccountsHash computes the hash over all accounts: account
// hashes sorted by pubkey, reduced to a Merkle root.
func (h *HashComputer) ComputeAccountsHash() (types.Hash, error) {
	var entries []AccountHashEntry

	switch db := h.db.(type) {
	case *BadgerDB:
		err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
			entries = append(entries, AccountHashEntry{
				Pubkey: pubkey,
				Hash:   ComputeAccountHash(pubkey, account),
			})
			return nil
		})
		if err != nil {
			return types.Hash{}, err
		}
	case *MemoryDB:
		for pubkey, account := range db.GetAllAccounts() {
			entries = append(entries, AccountHashEntry{
				Pubkey: pubkey,
				Hash:   ComputeAccountHash(pubkey, account),
			})
		}
	default:
		return types.Hash{}, fmt.Errorf("accounts hash: unsupported database type %T", h.db)
	}

	sort.Slice(entries, func(i, j int) bool {
		return comparePubkeys(entries[i].Pubkey, entries[j].Pubkey) < 0
	})

	hashes := make([]types.Hash, len(entries))
	for i, entry := range entries {
		hashes[i] = entry.Hash
	}

	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash computes the delta hash for a set of modified accounts.
// The pubkeys must be provided in sorted order for deterministic results.
// Deleted accounts contribute a zero hash.
func (h *HashComputer) ComputeDeltaHash(modifiedPubkeys []types.Pubkey) (types.Hash, error) {
	if len(modifiedPubkeys) == 0 {
		return types.Hash{}, nil
	}

	hashes := make([]types.Hash, 0, len(modifiedPubkeys))

	for _, pubkey := range modifiedPubkeys {
		account, err := h.db.GetAccount(pubkey)
		if err == ErrAccountNotFound {
			hashes = append(hashes, types.Hash{})
			continue
		}
		if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}

	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes the Merkle root of a list of hashes.
// Uses a binary Merkle tree with SHA256:
//   - Leaf: SHA256(0x00 || hash)
//   - Node: SHA256(0x01 || left || right)
//   - An unpaired node is paired with the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	if len(hashes) == 1 {
		return computeLeafHash(hashes[0])
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		nextLevel := make([]types.Hash, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			left := level[i]
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			nextLevel[i/2] = computeNodeHash(left, right)
		}

		level = nextLevel
	}

	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	buf := make([]byte, 1+32)
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return sha256.Sum256(buf)
}

func computeNodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 1+32+32)
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return sha256.Sum256(buf)
}

// StateHashInput contains the inputs for computing a state hash.
type StateHashInput struct {
	ParentStateHash types.Hash
	DeltaHash       types.Hash
	Sequence        uint64
}

// ComputeStateHash computes the rolling state commitment:
// SHA256(parent_state_hash || delta_hash || sequence).
func ComputeStateHash(input StateHashInput) types.Hash {
	buf := make([]byte, 32+32+8)
	offset := 0

	copy(buf[offset:], input.ParentStateHash[:])
	offset += 32

	copy(buf[offset:], input.DeltaHash[:])
	offset += 32

	binary.LittleEndian.PutUint64(buf[offset:], input.Sequence)

	return sha256.Sum256(buf)
}

// comparePubkeys compares two pubkeys lexicographically.
func comparePubkeys(a, b types.Pubkey) int {
	for i := 0; i < 32; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return comparePubkeys(pubkeys[i], pubkeys[j]) < 0
	})
}

// HashableMemoryDB wraps MemoryDB with hash computation.
type HashableMemoryDB struct {
	*MemoryDB
	hasher *HashComputer
}

// NewHashableMemoryDB creates a new hashable in-memory database.
func NewHashableMemoryDB() *HashableMemoryDB {
	mdb := NewMemoryDB()
	return &HashableMemoryDB{
		MemoryDB: mdb,
		hasher:   NewHashComputer(mdb),
	}
}

// ComputeAccountHash computes the hash of an account.
func (h *HashableMemoryDB) ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	return ComputeAccountHash(pubkey, account)
}

// ComputeAccountsHash computes the hash over all accounts.
func (h *HashableMemoryDB) ComputeAccountsHash() (types.Hash, error) {
	return h.hasher.ComputeAccountsHash()
}

// ComputeDeltaHash computes the delta hash.
func (h *HashableMemoryDB) ComputeDeltaHash(modifiedPubkeys []types.Pubkey) (types.Hash, error) {
	return h.hasher.ComputeDeltaHash(modifiedPubkeys)
}

var _ HashableDB = (*HashableMemoryDB)(nil)
