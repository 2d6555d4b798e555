// Package metadata implements the token metadata registry.
//
// The registry keeps one immutable Metadata record per mint
// (name/symbol/URI plus creator attribution) and, for one-of-one
// tokens, a MasterEdition record that takes over the mint's mint and
// freeze authorities so the supply is locked at issuance. It also
// exposes the delegated freeze/thaw operations the staking program uses
// for custody: only the token account's delegate, proven as a
// program-derived signer, may freeze or thaw through the edition.
package metadata

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/x1-vault/internal/types"
)

// Record discriminants, stored in the first data byte.
const (
	KeyMetadata      uint8 = 4
	KeyMasterEdition uint8 = 6
)

// Field length limits.
const (
	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
)

var (
	// ErrInvalidRecord is returned when stored registry state is malformed.
	ErrInvalidRecord = errors.New("metadata: invalid record")

	// ErrInvalidMetadata is returned when name/symbol/uri exceed limits.
	ErrInvalidMetadata = errors.New("metadata: name, symbol, or uri exceeds length limit")
)

// Creator attributes a share of an NFT to an address.
type Creator struct {
	Address  types.Pubkey
	Verified bool
	Share    uint8
}

// Data is the caller-supplied portion of a metadata record.
type Data struct {
	Name    string
	Symbol  string
	URI     string
	Creator *Creator
}

// Validate checks Data against the registry's length limits.
func (d *Data) Validate() error {
	if len(d.Name) > MaxNameLength || len(d.Symbol) > MaxSymbolLength || len(d.URI) > MaxURILength {
		return ErrInvalidMetadata
	}
	return nil
}

// Metadata is the persisted per-mint record. It is written once at
// issuance and never mutated.
type Metadata struct {
	UpdateAuthority types.Pubkey
	Mint            types.Pubkey
	Data            Data
}

// Serialize encodes the metadata record.
// Layout: key (1) || update_authority (32) || mint (32) ||
// name (4+len) || symbol (4+len) || uri (4+len) ||
// creator option (1 [+ 32 + 1 + 1]).
func (m *Metadata) Serialize() []byte {
	size := 1 + 32 + 32 +
		4 + len(m.Data.Name) +
		4 + len(m.Data.Symbol) +
		4 + len(m.Data.URI) + 1
	if m.Data.Creator != nil {
		size += 34
	}

	buf := make([]byte, size)
	offset := 0

	buf[offset] = KeyMetadata
	offset++

	copy(buf[offset:], m.UpdateAuthority[:])
	offset += 32

	copy(buf[offset:], m.Mint[:])
	offset += 32

	offset = putString(buf, offset, m.Data.Name)
	offset = putString(buf, offset, m.Data.Symbol)
	offset = putString(buf, offset, m.Data.URI)

	if m.Data.Creator != nil {
		buf[offset] = 1
		offset++
		copy(buf[offset:], m.Data.Creator.Address[:])
		offset += 32
		if m.Data.Creator.Verified {
			buf[offset] = 1
		}
		offset++
		buf[offset] = m.Data.Creator.Share
	}

	return buf
}

// DeserializeMetadata decodes a metadata record.
func DeserializeMetadata(data []byte) (*Metadata, error) {
	if len(data) < 1+32+32+12+1 || data[0] != KeyMetadata {
		return nil, ErrInvalidRecord
	}

	m := &Metadata{}
	offset := 1

	copy(m.UpdateAuthority[:], data[offset:])
	offset += 32

	copy(m.Mint[:], data[offset:])
	offset += 32

	var err error
	if m.Data.Name, offset, err = getString(data, offset); err != nil {
		return nil, err
	}
	if m.Data.Symbol, offset, err = getString(data, offset); err != nil {
		return nil, err
	}
	if m.Data.URI, offset, err = getString(data, offset); err != nil {
		return nil, err
	}

	if offset >= len(data) {
		return nil, ErrInvalidRecord
	}
	if data[offset] != 0 {
		if len(data)-offset < 35 {
			return nil, ErrInvalidRecord
		}
		c := &Creator{}
		offset++
		copy(c.Address[:], data[offset:])
		offset += 32
		c.Verified = data[offset] != 0
		offset++
		c.Share = data[offset]
		m.Data.Creator = c
	}

	return m, nil
}

// MasterEdition marks a mint as a singleton master edition and records
// how many copies may ever be printed from it.
type MasterEdition struct {
	// Supply counts printed copies; always 0 in the covered flows.
	Supply uint64

	// MaxSupply caps printable copies. Nil means unlimited.
	MaxSupply *uint64
}

// MasterEditionSize is the serialized size of a master edition record.
const MasterEditionSize = 1 + 8 + 1 + 8

// Serialize encodes the master edition record.
// Layout: key (1) || supply (8) || max_supply option (1 + 8).
func (e *MasterEdition) Serialize() []byte {
	buf := make([]byte, MasterEditionSize)
	buf[0] = KeyMasterEdition
	binary.LittleEndian.PutUint64(buf[1:], e.Supply)
	if e.MaxSupply != nil {
		buf[9] = 1
		binary.LittleEndian.PutUint64(buf[10:], *e.MaxSupply)
	}
	return buf
}

// DeserializeMasterEdition decodes a master edition record.
func DeserializeMasterEdition(data []byte) (*MasterEdition, error) {
	if len(data) != MasterEditionSize || data[0] != KeyMasterEdition {
		return nil, ErrInvalidRecord
	}
	e := &MasterEdition{
		Supply: binary.LittleEndian.Uint64(data[1:]),
	}
	if data[9] != 0 {
		max := binary.LittleEndian.Uint64(data[10:])
		e.MaxSupply = &max
	}
	return e, nil
}

// putString writes a u32-length-prefixed string and returns the next
// offset.
func putString(buf []byte, offset int, s string) int {
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(s)))
	copy(buf[offset+4:], s)
	return offset + 4 + len(s)
}

// getString reads a u32-length-prefixed string and returns it with the
// next offset.
func getString(data []byte, offset int) (string, int, error) {
	if len(data)-offset < 4 {
		return "", 0, ErrInvalidRecord
	}
	n := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if n > len(data)-offset {
		return "", 0, ErrInvalidRecord
	}
	return string(data[offset : offset+n]), offset + n, nil
}
