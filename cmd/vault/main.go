// x1-vault: NFT custody and reward node for the X1 blockchain
//
// This is the main entry point for x1-vault, a single-node service
// that issues one-of-one NFTs, takes them into frozen custody, and
// pays time-linear rewards on release. Clients submit signed
// transactions over JSON-RPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortiblox/x1-vault/pkg/node"
	"github.com/fortiblox/x1-vault/pkg/rpc"
)

// Version information
var (
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir          = flag.String("data-dir", "./data", "Data directory for accounts and journal")
	rpcAddr          = flag.String("rpc-addr", ":8899", "RPC server listen address")
	enableRPC        = flag.Bool("enable-rpc", true, "Enable JSON-RPC server")
	logRequests      = flag.Bool("log-requests", false, "Log incoming RPC requests")
	noSync           = flag.Bool("no-sync", false, "Disable fsync after writes (faster, less durable)")
	snapshotPath     = flag.String("snapshot", "", "Snapshot file to restore initial state from")
	snapshotInterval = flag.Duration("snapshot-interval", 0, "Interval between periodic snapshots (0 disables)")
	showVersion      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("x1-vault %s (%s)\n", rpc.Version, GitCommit)
		os.Exit(0)
	}

	// Setup logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting x1-vault %s", rpc.Version)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	config := node.DefaultConfig()
	config.DataDir = *dataDir
	config.RPCEnabled = *enableRPC
	config.RPCAddr = *rpcAddr
	config.RPCLogRequests = *logRequests
	config.NoSync = *noSync
	config.SnapshotPath = *snapshotPath
	config.SnapshotInterval = *snapshotInterval
	config.OnError = func(err error) {
		log.Printf("Background error: %v", err)
	}

	n, err := node.New(&config)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	if *enableRPC {
		log.Printf("JSON-RPC server listening on %s", *rpcAddr)
	}

	// Block until shutdown is requested.
	<-ctx.Done()

	// Give the node a bounded window to stop cleanly.
	done := make(chan struct{})
	go func() {
		if err := n.Stop(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Printf("Shutdown timed out, exiting")
	}
}
