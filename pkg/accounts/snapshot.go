// Package accounts provides snapshot export and import for the accounts database.
package accounts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/klauspost/compress/zstd"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// Snapshot file magic bytes for format validation.
var snapshotMagic = []byte{'X', 'V', 'S', 'N'} // XV Snapshot

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	// Version is the snapshot format version.
	Version uint32

	// Sequence is the applied-transaction sequence at which the
	// snapshot was taken.
	Sequence uint64

	// AccountsCount is the number of accounts in the snapshot.
	AccountsCount uint64

	// AccountsHash is the hash over all accounts at this sequence.
	AccountsHash types.Hash
}

// SnapshotWriter writes accounts to a snapshot file.
//
// Snapshot format:
//   - Magic (4 bytes): "XVSN"
//   - Version (4 bytes, little-endian)
//   - Sequence (8 bytes, little-endian)
//   - AccountsCount (8 bytes, little-endian)
//   - AccountsHash (32 bytes)
//   - Accounts stream (zstd compressed), per account:
//   - Pubkey (32 bytes)
//   - AccountSize (4 bytes, little-endian)
//   - AccountData (variable, serialized account)
type SnapshotWriter struct {
	file       *os.File
	zstdWriter *zstd.Encoder
	writer     *bufio.Writer
	header     SnapshotHeader
	count      uint64
}

// NewSnapshotWriter creates a new snapshot writer.
func NewSnapshotWriter(path string, sequence uint64, accountsHash types.Hash) (*SnapshotWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}

	sw := &SnapshotWriter{
		file: file,
		header: SnapshotHeader{
			Version:      snapshotVersion,
			Sequence:     sequence,
			AccountsHash: accountsHash,
		},
	}

	// Placeholder header, rewritten with the final count on close.
	if err := sw.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	sw.zstdWriter, err = zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	sw.writer = bufio.NewWriter(sw.zstdWriter)

	return sw, nil
}

// writeHeader writes the snapshot header.
func (sw *SnapshotWriter) writeHeader() error {
	if _, err := sw.file.Write(snapshotMagic); err != nil {
		return err
	}

	buf := make([]byte, 52) // 4 + 8 + 8 + 32
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], sw.header.Version)
	offset += 4

	binary.LittleEndian.PutUint64(buf[offset:], sw.header.Sequence)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], sw.header.AccountsCount)
	offset += 8

	copy(buf[offset:], sw.header.AccountsHash[:])

	_, err := sw.file.Write(buf)
	return err
}

// WriteAccount writes a single account to the snapshot.
func (sw *SnapshotWriter) WriteAccount(pubkey types.Pubkey, account *Account) error {
	if _, err := sw.writer.Write(pubkey[:]); err != nil {
		return err
	}

	data := account.Serialize()

	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(data)))
	if _, err := sw.writer.Write(sizeBuf); err != nil {
		return err
	}

	if _, err := sw.writer.Write(data); err != nil {
		return err
	}

	sw.count++
	return nil
}

// Close finalizes and closes the snapshot.
func (sw *SnapshotWriter) Close() error {
	if err := sw.writer.Flush(); err != nil {
		return err
	}
	if err := sw.zstdWriter.Close(); err != nil {
		return err
	}

	// Rewrite the header with the final count.
	sw.header.AccountsCount = sw.count
	if _, err := sw.file.Seek(0, 0); err != nil {
		return err
	}
	if err := sw.writeHeader(); err != nil {
		return err
	}

	return sw.file.Close()
}

// SnapshotReader reads accounts from a snapshot file.
type SnapshotReader struct {
	file       *os.File
	zstdReader *zstd.Decoder
	reader     *bufio.Reader
	Header     SnapshotHeader
	read       uint64
}

// OpenSnapshot opens a snapshot file for reading.
func OpenSnapshot(path string) (*SnapshotReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	sr := &SnapshotReader{file: file}

	if err := sr.readHeader(); err != nil {
		file.Close()
		return nil, err
	}

	sr.zstdReader, err = zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	sr.reader = bufio.NewReader(sr.zstdReader)

	return sr, nil
}

// readHeader reads and validates the snapshot header.
func (sr *SnapshotReader) readHeader() error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(sr.file, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != string(snapshotMagic) {
		return fmt.Errorf("invalid snapshot magic: %s", magic)
	}

	buf := make([]byte, 52)
	if _, err := io.ReadFull(sr.file, buf); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	offset := 0

	sr.Header.Version = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	if sr.Header.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", sr.Header.Version)
	}

	sr.Header.Sequence = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8

	sr.Header.AccountsCount = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8

	copy(sr.Header.AccountsHash[:], buf[offset:])

	return nil
}

// ReadAccount reads the next account from the snapshot.
// Returns io.EOF when all accounts have been read.
func (sr *SnapshotReader) ReadAccount() (types.Pubkey, *Account, error) {
	if sr.read >= sr.Header.AccountsCount {
		return types.Pubkey{}, nil, io.EOF
	}

	var pubkey types.Pubkey
	if _, err := io.ReadFull(sr.reader, pubkey[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read pubkey: %w", err)
	}

	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(sr.reader, sizeBuf); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read size: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf)

	// Bound allocation: max account data plus serialization overhead.
	const maxAccountSerializedSize = MaxAccountDataSize + 100
	if size > maxAccountSerializedSize {
		return types.Pubkey{}, nil, fmt.Errorf("account size %d exceeds maximum %d", size, maxAccountSerializedSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(sr.reader, data); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read account data: %w", err)
	}

	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("deserialize account: %w", err)
	}

	sr.read++
	return pubkey, account, nil
}

// Close closes the snapshot reader.
func (sr *SnapshotReader) Close() error {
	if sr.zstdReader != nil {
		sr.zstdReader.Close()
	}
	return sr.file.Close()
}

// CreateSnapshot creates a snapshot from a BadgerDB database.
func (b *BadgerDB) CreateSnapshot(path string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	hasher := NewHashComputer(b)
	accountsHash, err := hasher.ComputeAccountsHash()
	if err != nil {
		return fmt.Errorf("compute accounts hash: %w", err)
	}

	writer, err := NewSnapshotWriter(path, b.GetSequence(), accountsHash)
	if err != nil {
		return err
	}
	defer writer.Close()

	err = b.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		return writer.WriteAccount(pubkey, account)
	})
	if err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}

	return nil
}

// LoadSnapshot loads state from a snapshot file.
func (b *BadgerDB) LoadSnapshot(path string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	reader, err := OpenSnapshot(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		pubkey, account, err := reader.ReadAccount()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}

		if err := b.SetAccount(pubkey, account); err != nil {
			return fmt.Errorf("set account: %w", err)
		}
	}

	if err := b.SetSequence(reader.Header.Sequence); err != nil {
		return fmt.Errorf("set sequence: %w", err)
	}

	// Verify the restored state against the recorded hash.
	hasher := NewHashComputer(b)
	computedHash, err := hasher.ComputeAccountsHash()
	if err != nil {
		return fmt.Errorf("compute hash: %w", err)
	}
	if computedHash != reader.Header.AccountsHash {
		return fmt.Errorf("accounts hash mismatch: expected %s, got %s",
			reader.Header.AccountsHash.String(), computedHash.String())
	}

	return nil
}

// GetSnapshotHeader returns the header of a snapshot file without
// loading its accounts.
func GetSnapshotHeader(path string) (*SnapshotHeader, error) {
	reader, err := OpenSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return &reader.Header, nil
}

// SnapshotFilename returns the standard filename for a snapshot.
// Format: snapshot-{sequence}-{hash}.xvsnap
func SnapshotFilename(sequence uint64, hash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.xvsnap", sequence, hash.String()[:16])
}

var _ SnapshotableDB = (*BadgerDB)(nil)

// CreateSnapshot creates a snapshot from a MemoryDB (for testing).
func (m *MemoryDB) CreateSnapshot(path string) error {
	if m.closed {
		return ErrClosed
	}

	hasher := NewHashComputer(m)
	accountsHash, err := hasher.ComputeAccountsHash()
	if err != nil {
		return fmt.Errorf("compute accounts hash: %w", err)
	}

	writer, err := NewSnapshotWriter(path, m.GetSequence(), accountsHash)
	if err != nil {
		return err
	}
	defer writer.Close()

	for pubkey, account := range m.accounts {
		if err := writer.WriteAccount(pubkey, account); err != nil {
			return fmt.Errorf("write account: %w", err)
		}
	}

	return nil
}

// LoadSnapshot loads state from a snapshot into a MemoryDB.
func (m *MemoryDB) LoadSnapshot(path string) error {
	if m.closed {
		return ErrClosed
	}

	reader, err := OpenSnapshot(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	m.accounts = make(map[types.Pubkey]*Account)

	for {
		pubkey, account, err := reader.ReadAccount()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}

		m.accounts[pubkey] = account
	}

	m.seq = reader.Header.Sequence

	hasher := NewHashComputer(m)
	computedHash, err := hasher.ComputeAccountsHash()
	if err != nil {
		return fmt.Errorf("compute hash: %w", err)
	}
	if computedHash != reader.Header.AccountsHash {
		return fmt.Errorf("accounts hash mismatch: expected %s, got %s",
			reader.Header.AccountsHash.String(), computedHash.String())
	}

	return nil
}

var _ SnapshotableDB = (*MemoryDB)(nil)
