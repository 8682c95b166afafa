// X1-Ledger: ledger read service and transaction forwarder for the X1 network.
//
// The daemon opens the ledger database (read-write, creating any missing
// column families) for the blockstore Reader and runs the transaction forwarding service against a pool of RPC
// endpoints, exposing Prometheus metrics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fortiblox/X1-Ledger/pkg/blockstore"
	"github.com/fortiblox/X1-Ledger/pkg/database"
	"github.com/fortiblox/X1-Ledger/pkg/gossip"
	"github.com/fortiblox/X1-Ledger/pkg/rpcpool"
	"github.com/fortiblox/X1-Ledger/pkg/sendtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir         = flag.String("data-dir", "/mnt/x1-ledger", "Data directory for the ledger database")
	engine          = flag.String("db-engine", database.EngineBolt, "Database engine: bolt or badger")
	metricsAddr     = flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	rpcEndpoints    = flag.String("rpc-endpoints", "", "Comma-separated RPC endpoints for the forwarding oracle")
	relayerEndpoint = flag.String("relayer", "", "Optional gRPC relayer endpoint (default: direct UDP to leader TPUs)")
	slotThreshold   = flag.Uint64("slot-threshold", 50, "Max slots behind before marking an endpoint unhealthy")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

// Reference RPC endpoints (source of truth for current slot)
var referenceEndpoints = []string{
	"https://rpc.mainnet.x1.xyz",
	"https://entrypoint0.mainnet.x1.xyz",
	"https://entrypoint1.mainnet.x1.xyz",
	"https://entrypoint2.mainnet.x1.xyz",
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("X1-Ledger %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting X1-Ledger %s", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
	log.Println("Shutdown complete")
}

func run(ctx context.Context) error {
	registry := prometheus.NewRegistry()

	// Open the ledger database and the reader.
	dbPath := filepath.Join(*dataDir, "ledger")
	if *engine == database.EngineBolt {
		dbPath = filepath.Join(*dataDir, "ledger.bolt")
	}
	db, err := database.Open(*engine, dbPath, blockstore.Schema(), database.Options{ReadOnly: false})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reader, err := blockstore.NewReader(db, registry)
	if err != nil {
		return fmt.Errorf("create reader: %w", err)
	}
	if lowest, err := reader.LowestSlotWithGenesis(); err == nil {
		log.Printf("Ledger opened, lowest slot %d", lowest)
	}

	// RPC endpoint pool for the forwarding oracle.
	pool := rpcpool.NewPool(referenceEndpoints, *slotThreshold)
	for _, url := range strings.Split(*rpcEndpoints, ",") {
		if url = strings.TrimSpace(url); url != "" {
			pool.AddEndpoint(url)
		}
	}
	pool.Start(ctx)
	defer pool.Stop()

	// Transaction forwarding service.
	table := gossip.NewTable()
	var forwarder sendtx.Forwarder
	if *relayerEndpoint != "" {
		forwarder, err = sendtx.NewRelayerForwarder(sendtx.RelayerConfig{Endpoint: *relayerEndpoint})
	} else {
		forwarder, err = sendtx.NewUDPForwarder()
	}
	if err != nil {
		return fmt.Errorf("create forwarder: %w", err)
	}
	defer forwarder.Close()

	rpcClient := sendtx.NewHTTPClient(pool, 30*time.Second)
	service, err := sendtx.NewService(sendtx.DefaultConfig(), rpcClient, table, forwarder, registry)
	if err != nil {
		return fmt.Errorf("create forwarding service: %w", err)
	}
	service.Start(ctx)
	defer service.Stop()

	// Metrics endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	defer server.Close()

	log.Printf("Forwarding service running, metrics on %s", *metricsAddr)
	<-ctx.Done()
	return nil
}
