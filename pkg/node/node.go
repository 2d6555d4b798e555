// Package node provides the main orchestrator for an x1-vault node.
//
// The Node ties together all components:
// - AccountsDB for persistent account state
// - Journal for transaction outcomes and replay rejection
// - Engine for atomic transaction execution
// - The staking program
// - JSON-RPC server for client access
//
// The node manages the lifecycle of these components and provides
// snapshot support for fast restarts.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/x1-vault/pkg/accounts"
	"github.com/fortiblox/x1-vault/pkg/journal"
	"github.com/fortiblox/x1-vault/pkg/rpc"
	"github.com/fortiblox/x1-vault/pkg/runtime"
	"github.com/fortiblox/x1-vault/pkg/staking"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories are created for accounts and the journal.
	DataDir string

	// SnapshotPath is an optional snapshot file to load initial state
	// from when the accounts database is empty.
	SnapshotPath string

	// SnapshotInterval creates periodic snapshots when non-zero.
	SnapshotInterval time.Duration

	// SnapshotDir is where periodic snapshots are written.
	// Defaults to <DataDir>/snapshots.
	SnapshotDir string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// RPCEnabled enables the JSON-RPC server.
	RPCEnabled bool

	// RPCAddr is the listen address for the RPC server (default ":8899").
	RPCAddr string

	// RPCLogRequests enables logging of RPC requests.
	RPCLogRequests bool

	// OnError is called with background errors.
	OnError func(err error)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:    "./data",
		RPCEnabled: true,
		RPCAddr:    ":8899",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	return nil
}

// Node represents a complete x1-vault node.
type Node struct {
	config Config

	// Core components
	accounts  *accounts.BadgerDB
	journal   *journal.Journal
	engine    *runtime.Engine
	rpcServer *rpc.Server

	// State management
	running      atomic.Bool
	shuttingDown atomic.Bool
	startTime    time.Time
	lastError    error
	lastErrorMu  sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}

	if config.RPCAddr == "" {
		config.RPCAddr = DefaultConfig().RPCAddr
	}
	if config.SnapshotDir == "" {
		config.SnapshotDir = filepath.Join(config.DataDir, "snapshots")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{config: *config}, nil
}

// Start initializes all components and begins serving.
func (n *Node) Start(ctx context.Context) error {
	if n.running.Load() {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()
	n.running.Store(true)

	if err := n.initialize(); err != nil {
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	if n.rpcServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Start(n.ctx); err != nil {
				n.setLastError(fmt.Errorf("RPC server error: %w", err))
				if n.config.OnError != nil {
					n.config.OnError(err)
				}
			}
		}()
	}

	if n.config.SnapshotInterval > 0 {
		n.wg.Add(1)
		go n.snapshotLoop()
	}

	log.Printf("node started: sequence %d, data dir %s",
		n.engine.Sequence(), n.config.DataDir)
	return nil
}

// initialize sets up all storage backends and components.
func (n *Node) initialize() error {
	if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Accounts database.
	accountsPath := filepath.Join(n.config.DataDir, "accounts")
	accountsConfig := accounts.DefaultBadgerDBConfig(accountsPath)
	accountsConfig.SyncWrites = !n.config.NoSync
	db, err := accounts.NewBadgerDB(accountsConfig)
	if err != nil {
		return fmt.Errorf("open accounts database: %w", err)
	}
	n.accounts = db

	// Restore from a snapshot when starting fresh.
	if n.config.SnapshotPath != "" && db.GetSequence() == 0 {
		log.Printf("loading snapshot from %s", n.config.SnapshotPath)
		if err := db.LoadSnapshot(n.config.SnapshotPath); err != nil {
			db.Close()
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	// Transaction journal.
	journalPath := filepath.Join(n.config.DataDir, "journal", "journal.db")
	journalConfig := journal.DefaultConfig(journalPath)
	journalConfig.NoSync = n.config.NoSync
	j, err := journal.Open(journalConfig)
	if err != nil {
		db.Close()
		return fmt.Errorf("open journal: %w", err)
	}
	n.journal = j

	// Execution engine with the staking program.
	n.engine = runtime.NewEngine(db, runtime.NewSystemClock(), j)
	n.engine.Register(staking.NewProgram())

	// RPC server.
	if n.config.RPCEnabled {
		rpcConfig := rpc.DefaultConfig()
		rpcConfig.Addr = n.config.RPCAddr
		rpcConfig.LogRequests = n.config.RPCLogRequests
		n.rpcServer = rpc.New(rpcConfig, n.engine, db, j)
	}

	return nil
}

// snapshotLoop periodically writes snapshots of the accounts database.
func (n *Node) snapshotLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.CreateSnapshot(); err != nil {
				n.setLastError(err)
				log.Printf("snapshot failed: %v", err)
			}
		}
	}
}

// CreateSnapshot writes a snapshot of current account state to the
// snapshot directory.
func (n *Node) CreateSnapshot() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	if err := os.MkdirAll(n.config.SnapshotDir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	seq := n.engine.Sequence()
	hash, err := accounts.NewHashComputer(n.accounts).ComputeAccountsHash()
	if err != nil {
		return fmt.Errorf("compute accounts hash: %w", err)
	}

	path := filepath.Join(n.config.SnapshotDir, accounts.SnapshotFilename(seq, hash))
	if err := n.accounts.CreateSnapshot(path); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	log.Printf("snapshot written: %s", path)
	return nil
}

// Stop shuts down all components in reverse startup order.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	if !n.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	log.Printf("node stopping")
	n.cancel()

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			log.Printf("RPC server stop: %v", err)
		}
	}

	n.engine.Close()
	n.wg.Wait()

	if err := n.journal.Close(); err != nil {
		log.Printf("journal close: %v", err)
	}
	if err := n.accounts.Close(); err != nil {
		log.Printf("accounts close: %v", err)
	}

	n.running.Store(false)
	n.shuttingDown.Store(false)
	log.Printf("node stopped after %v", time.Since(n.startTime))
	return nil
}

// Engine returns the execution engine, for direct submission in tests
// and tools.
func (n *Node) Engine() *runtime.Engine {
	return n.engine
}

// Accounts returns the accounts database.
func (n *Node) Accounts() accounts.DB {
	return n.accounts
}

// Journal returns the transaction journal.
func (n *Node) Journal() *journal.Journal {
	return n.journal
}

// Running reports whether the node is started.
func (n *Node) Running() bool {
	return n.running.Load()
}

// LastError returns the most recent background error.
func (n *Node) LastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}
