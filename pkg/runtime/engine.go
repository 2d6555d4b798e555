package runtime

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fortiblox/x1-vault/internal/types"
	"github.com/fortiblox/x1-vault/pkg/accounts"
)

var (
	ErrUnknownProgram       = errors.New("no program registered for address")
	ErrDuplicateTransaction = errors.New("transaction already processed")
	ErrEngineClosed         = errors.New("engine is closed")
)

// Program executes requests addressed to one program address. Execute
// sees only the working copies in the context; returning an error
// discards every change the program made.
type Program interface {
	ID() types.Pubkey
	Execute(ctx *Context, data []byte) error
}

// TransactionRecord is the persisted outcome of a processed request.
type TransactionRecord struct {
	Hash      types.Hash
	Sequence  uint64
	Time      int64
	Success   bool
	Error     string
	Logs      []string
	StateHash types.Hash
}

// RecordStore persists transaction outcomes and answers replay checks.
type RecordStore interface {
	HasTransaction(hash types.Hash) (bool, error)
	RecordTransaction(rec *TransactionRecord) error
}

// Result reports what happened to a submitted transaction. A result
// with Success false means the program rejected the request and no
// state changed; the transaction itself was still recorded.
type Result struct {
	Hash      types.Hash
	Sequence  uint64
	Success   bool
	Error     string
	Logs      []string
	Modified  []types.Pubkey
	StateHash types.Hash
}

// Engine applies transactions to the account store one at a time.
// Each transaction executes against cloned working copies and commits
// atomically on success, so a failed request can never leave partial
// state behind.
type Engine struct {
	mu sync.Mutex

	db       accounts.DB
	hasher   *accounts.HashComputer
	clock    Clock
	records  RecordStore
	programs map[types.Pubkey]Program

	sequence  uint64
	stateHash types.Hash
	closed    bool
}

// NewEngine creates an engine over the given store. The record store
// may be nil, which disables replay rejection and outcome persistence.
func NewEngine(db accounts.DB, clock Clock, records RecordStore) *Engine {
	return &Engine{
		db:       db,
		hasher:   accounts.NewHashComputer(db),
		clock:    clock,
		records:  records,
		programs: make(map[types.Pubkey]Program),
		sequence: db.GetSequence(),
	}
}

// Register adds a program to the dispatch table.
func (e *Engine) Register(p Program) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs[p.ID()] = p
}

// Sequence returns the number of transactions applied so far.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the hash chained over all committed transactions.
func (e *Engine) StateHash() types.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateHash
}

// SetStateHash seeds the state hash chain, for restoring from a
// snapshot before any transaction is applied.
func (e *Engine) SetStateHash(h types.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateHash = h
}

// Close stops the engine. In-flight transactions finish first.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Execute verifies, runs, and commits one transaction. Infrastructure
// failures (bad signatures, replay, storage errors) return an error
// and no result; program-level rejections return a Result with
// Success false and the program's error string.
func (e *Engine) Execute(tx *Transaction) (*Result, error) {
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	if e.records != nil {
		seen, err := e.records.HasTransaction(hash)
		if err != nil {
			return nil, fmt.Errorf("replay check: %w", err)
		}
		if seen {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, hash)
		}
	}

	program, ok := e.programs[tx.Message.Instruction.ProgramID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, tx.Message.Instruction.ProgramID)
	}

	start := time.Now()
	ctx := newContext(e.db, e.clock, &tx.Message)

	execErr := program.Execute(ctx, tx.Message.Instruction.Data)

	var changed []types.Pubkey
	if execErr == nil {
		changed, execErr = ctx.modified()
	}

	result := &Result{
		Hash:      hash,
		Sequence:  e.sequence,
		Logs:      ctx.Logs(),
		StateHash: e.stateHash,
	}

	if execErr == nil {
		if err := ctx.commit(changed); err != nil {
			return nil, err
		}
		e.sequence++
		if err := e.db.SetSequence(e.sequence); err != nil {
			return nil, fmt.Errorf("advance sequence: %w", err)
		}

		sorted := make([]types.Pubkey, len(changed))
		copy(sorted, changed)
		accounts.SortPubkeys(sorted)
		deltaHash, err := e.hasher.ComputeDeltaHash(sorted)
		if err != nil {
			return nil, fmt.Errorf("delta hash: %w", err)
		}
		e.stateHash = accounts.ComputeStateHash(accounts.StateHashInput{
			ParentStateHash: e.stateHash,
			DeltaHash:       deltaHash,
			Sequence:        e.sequence,
		})

		result.Sequence = e.sequence
		result.Success = true
		result.Modified = changed
		result.StateHash = e.stateHash
	} else {
		result.Error = execErr.Error()
	}

	if e.records != nil {
		rec := &TransactionRecord{
			Hash:      hash,
			Sequence:  result.Sequence,
			Time:      time.Now().Unix(),
			Success:   result.Success,
			Error:     result.Error,
			Logs:      result.Logs,
			StateHash: result.StateHash,
		}
		if err := e.records.RecordTransaction(rec); err != nil {
			return nil, fmt.Errorf("record transaction: %w", err)
		}
	}

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	log.Printf("executed transaction %s: %s in %v (sequence %d)",
		hash, status, time.Since(start), result.Sequence)

	return result, nil
}
