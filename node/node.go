package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mini-ledger/api"
	"mini-ledger/blockchain"
	"mini-ledger/events"
	"mini-ledger/network"
	"mini-ledger/wallet"
)

const defaultShutdownTimeout = 20 * time.Second

// Run opens the stores of the node, rebuilds its utxo index, starts the sync
// server and the api, and blocks until ctx is cancelled or the api fails.
func Run(ctx context.Context, log *zap.SugaredLogger, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// =========================================================================
	// Storage

	blocksDB, err := blockchain.OpenDB(BlocksPath(cfg.DataDir, cfg.NodeID))
	if err != nil {
		return err
	}
	defer blocksDB.Close()

	stateDB, err := blockchain.OpenDB(ChainstatePath(cfg.DataDir, cfg.NodeID))
	if err != nil {
		return err
	}
	defer stateDB.Close()

	bc, err := blockchain.OpenBlockchain(blocksDB, blockchain.Config{
		Difficulty:      cfg.Difficulty,
		ValidateImports: cfg.ValidateImports,
	})
	if err != nil {
		if errors.Is(err, blockchain.ErrNotFoundKind) {
			return fmt.Errorf("node %s has no ledger, create one first: %w", cfg.NodeID, err)
		}
		return err
	}

	utxo := blockchain.NewUTXOSet(bc, stateDB)
	if err := utxo.Reindex(); err != nil {
		return err
	}

	height, err := bc.GetBestHeight()
	if err != nil {
		return err
	}
	log.Infow("startup", "status", "ledger opened", "node", cfg.NodeID, "height", height)

	// =========================================================================
	// Events

	// Raw event messages go to the log and to every websocket client
	// connected through the api.
	evts := events.NewFeed()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Publish(s)
	}

	// =========================================================================
	// Sync Server

	var minerPubKeyHash []byte
	if cfg.MinerAddress != "" {
		minerPubKeyHash, err = wallet.PubKeyHashFromAddress(cfg.MinerAddress)
		if err != nil {
			return err
		}
	}

	srv, err := network.NewServer(network.Config{
		NodeAddress:     cfg.Host,
		MinerPubKeyHash: minerPubKeyHash,
		KnownNodes:      cfg.KnownNodes,
		MineThreshold:   cfg.MineThreshold,
		DialTimeout:     cfg.DialTimeout,
		IOTimeout:       cfg.IOTimeout,
		Blockchain:      bc,
		UTXOSet:         utxo,
		Log:             log,
		EvHandler:       ev,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Shutdown()

	// =========================================================================
	// Start API

	serverErrors := make(chan error, 1)

	var public *http.Server
	if cfg.APIHost != "" {
		public = &http.Server{
			Addr:     cfg.APIHost,
			Handler:  api.Routes(api.Config{Log: log, State: srv, Evts: evts}),
			ErrorLog: zap.NewStdLog(log.Desugar()),
		}

		go func() {
			log.Infow("startup", "status", "api router started", "host", public.Addr)
			serverErrors <- public.ListenAndServe()
		}()
	}

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		evts.Close()
		return fmt.Errorf("api error: %w", err)

	case <-ctx.Done():
		log.Infow("shutdown", "status", "shutdown started")
		defer log.Infow("shutdown", "status", "shutdown complete")

		// Release any web sockets that are currently active.
		evts.Close()

		if public != nil {
			timeout := cfg.ShutdownTimeout
			if timeout == 0 {
				timeout = defaultShutdownTimeout
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := public.Shutdown(ctx); err != nil {
				public.Close()
				return fmt.Errorf("could not stop api gracefully: %w", err)
			}
		}
	}

	return nil
}
