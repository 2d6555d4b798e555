package journal

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/runtime"
)

func testJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return j, path
}

func testRecord(sequence uint64, success bool) *runtime.TransactionRecord {
	var hash types.Hash
	hash[0] = byte(sequence)
	hash[1] = 0xA5
	if !success {
		hash[2] = 1
	}
	rec := &runtime.TransactionRecord{
		Hash:     hash,
		Sequence: sequence,
		Time:     1_700_000_000 + int64(sequence),
		Success:  success,
		Logs:     []string{"log line"},
	}
	if !success {
		rec.Error = "staking: NFT is already staked"
	}
	return rec
}

func TestRecordAndGet(t *testing.T) {
	j, _ := testJournal(t)
	defer j.Close()

	rec := testRecord(1, true)
	if err := j.RecordTransaction(rec); err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}

	found, err := j.HasTransaction(rec.Hash)
	if err != nil {
		t.Fatalf("HasTransaction failed: %v", err)
	}
	if !found {
		t.Error("Expected transaction to be found")
	}

	got, err := j.GetTransaction(rec.Hash)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.Hash != rec.Hash || got.Sequence != rec.Sequence || !got.Success {
		t.Errorf("Record mismatch: %+v", got)
	}
	if len(got.Logs) != 1 || got.Logs[0] != "log line" {
		t.Error("Logs mismatch")
	}
}

func TestGetMissingTransaction(t *testing.T) {
	j, _ := testJournal(t)
	defer j.Close()

	var hash types.Hash
	hash[0] = 0xFF
	if _, err := j.GetTransaction(hash); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("Expected ErrTransactionNotFound, got %v", err)
	}
	found, err := j.HasTransaction(hash)
	if err != nil {
		t.Fatalf("HasTransaction failed: %v", err)
	}
	if found {
		t.Error("Expected transaction to be absent")
	}
}

func TestSequenceIndex(t *testing.T) {
	j, _ := testJournal(t)
	defer j.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		if err := j.RecordTransaction(testRecord(seq, true)); err != nil {
			t.Fatalf("RecordTransaction failed: %v", err)
		}
	}
	// Failed transactions are recorded but not sequence-indexed.
	failed := testRecord(0, false)
	if err := j.RecordTransaction(failed); err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}

	rec, err := j.GetTransactionBySequence(2)
	if err != nil {
		t.Fatalf("GetTransactionBySequence failed: %v", err)
	}
	if rec.Sequence != 2 {
		t.Errorf("Expected sequence 2, got %d", rec.Sequence)
	}

	if _, err := j.GetTransactionBySequence(99); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("Expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := j.GetTransactionBySequence(0); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("Failed transactions must not be sequence-indexed, got %v", err)
	}

	// The failed record is still retrievable by hash.
	got, err := j.GetTransaction(failed.Hash)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.Success || got.Error == "" {
		t.Errorf("Failed record mismatch: %+v", got)
	}

	if j.Count() != 4 {
		t.Errorf("Expected count 4, got %d", j.Count())
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	j, path := testJournal(t)

	rec := testRecord(1, true)
	if err := j.RecordTransaction(rec); err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.Count() != 1 {
		t.Errorf("Expected count 1 after reopen, got %d", reopened.Count())
	}
	found, err := reopened.HasTransaction(rec.Hash)
	if err != nil {
		t.Fatalf("HasTransaction failed: %v", err)
	}
	if !found {
		t.Error("Expected transaction to survive reopen")
	}
}

func TestClosedJournal(t *testing.T) {
	j, _ := testJournal(t)
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is fine.
	if err := j.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	if err := j.RecordTransaction(testRecord(1, true)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := j.HasTransaction(types.Hash{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
