// Package journal provides persistent storage for processed
// transaction outcomes. The engine checks it before executing a
// transaction, so a replayed submission is rejected instead of applied
// twice.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/runtime"
)

var (
	// ErrTransactionNotFound is returned when a transaction record
	// doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

// Bucket names for BoltDB.
var (
	// bucketTransactions stores transaction records keyed by hash.
	bucketTransactions = []byte("transactions")

	// bucketBySequence indexes transaction hashes by sequence number.
	bucketBySequence = []byte("by_sequence")

	// bucketMetadata stores journal metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyTransactionCount = []byte("transaction_count")
)

// Config holds journal configuration options.
type Config struct {
	// Path is the file path for the journal database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path: path,
	}
}

// Journal stores transaction records in BoltDB. It implements the
// engine's RecordStore interface.
type Journal struct {
	db     *bolt.DB
	config Config

	count  atomic.Uint64
	mu     sync.Mutex
	closed bool
}

// Open creates or opens a journal at the configured path.
func Open(config Config) (*Journal, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}

	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &Journal{db: db, config: config}

	if !config.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, bucket := range [][]byte{bucketTransactions, bucketBySequence, bucketMetadata} {
				if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create buckets: %w", err)
		}
	}

	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if raw := meta.Get(keyTransactionCount); len(raw) == 8 {
			j.count.Store(decodeUint64(raw))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	return j, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// HasTransaction reports whether a transaction with this hash was
// already recorded.
func (j *Journal) HasTransaction(hash types.Hash) (bool, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return false, ErrClosed
	}
	j.mu.Unlock()

	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketTransactions).Get(hash[:]) != nil
		return nil
	})
	return found, err
}

// RecordTransaction persists one transaction record. Successful
// transactions are also indexed by sequence number.
func (j *Journal) RecordTransaction(rec *runtime.TransactionRecord) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	err := j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTransactions).Put(rec.Hash[:], buf.Bytes()); err != nil {
			return err
		}
		if rec.Success {
			seqKey := encodeUint64(rec.Sequence)
			if err := tx.Bucket(bucketBySequence).Put(seqKey, rec.Hash[:]); err != nil {
				return err
			}
		}
		count := j.count.Load() + 1
		return tx.Bucket(bucketMetadata).Put(keyTransactionCount, encodeUint64(count))
	})
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}

	j.count.Add(1)
	return nil
}

// GetTransaction returns the record for a transaction hash.
func (j *Journal) GetTransaction(hash types.Hash) (*runtime.TransactionRecord, error) {
	var rec runtime.TransactionRecord
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTransactions).Get(hash[:])
		if raw == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetTransactionBySequence returns the successful transaction applied
// at the given sequence number.
func (j *Journal) GetTransactionBySequence(sequence uint64) (*runtime.TransactionRecord, error) {
	var hash types.Hash
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBySequence).Get(encodeUint64(sequence))
		if raw == nil {
			return ErrTransactionNotFound
		}
		copy(hash[:], raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j.GetTransaction(hash)
}

// Count returns the number of recorded transactions, including failed
// ones.
func (j *Journal) Count() uint64 {
	return j.count.Load()
}

// Sync flushes the database to disk.
func (j *Journal) Sync() error {
	return j.db.Sync()
}

// Sequence keys are big-endian so bucket iteration follows sequence
// order.
func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw)
}
