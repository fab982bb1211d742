// Command engine boots the off-chain execution engine process:
// load config, open durable storage, construct the state tree and the
// rest of spec.md §3's process-wide state, then serve the operator RPC
// edge of §6. Boot glue and the RPC transport are both out of scope
// per spec.md §1 — this binary is kept minimal, the way the teacher's
// cmd/node/main.go wires pkg/app/core without a DI container.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/starkdex/engine/pkg/batch"
	"github.com/starkdex/engine/pkg/config"
	"github.com/starkdex/engine/pkg/executor"
	"github.com/starkdex/engine/pkg/funding"
	"github.com/starkdex/engine/pkg/oracle"
	"github.com/starkdex/engine/pkg/partialfill"
	"github.com/starkdex/engine/pkg/rpc"
	"github.com/starkdex/engine/pkg/statetree"
	"github.com/starkdex/engine/pkg/storage"
	"github.com/starkdex/engine/pkg/telemetry"
)

func main() {
	var (
		dataDir = flag.String("data-dir", "data/engine.db", "pebble data directory")
		envPath = flag.String("env", "", "path to .env file (optional)")
		addr    = flag.String("addr", ":8080", "RPC listen address")
	)
	flag.Parse()

	log, err := telemetry.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(*envPath)

	store, err := storage.Open(*dataDir)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	tree := statetree.New(store)
	pf := partialfill.New()
	fe := funding.New()
	oc := oracle.New(cfg, cfg.ObserverKeyMap())

	batchID, err := store.NextBatchID()
	if err != nil {
		log.Fatal("failed to allocate batch id", zap.Error(err))
	}
	mb := executor.NewMicroBatchLog(store, batchID, cfg.MicroBatchFlushSize)
	execCtx := executor.New(cfg, tree, pf, fe, oc, store, log, mb)
	batchCo := batch.New(cfg, tree, fe, oc, store, execCtx, batchID)

	server := rpc.NewServer(batchCo, oc, tree, store, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("engine listening", zap.String("addr", *addr))
		if err := server.Start(*addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("rpc server stopped", zap.Error(err))
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	if err := mb.Drain(); err != nil {
		log.Error("failed to drain micro-batch log on shutdown", zap.Error(err))
	}
}
