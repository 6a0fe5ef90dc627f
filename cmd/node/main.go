package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"

	"mini-ledger/logger"
	"mini-ledger/node"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Node struct {
			ID         string   `conf:"default:3000"`
			DataDir    string   `conf:"default:zblock"`
			Host       string   `conf:"default:localhost:3000"`
			KnownNodes []string `conf:"default:localhost:3000"`
		}
		Ledger struct {
			Difficulty      int  `conf:"default:4"`
			ValidateImports bool `conf:"default:false"`
		}
		Mining struct {
			MinerAddress string
			Threshold    int `conf:"default:2"`
		}
		Net struct {
			DialTimeout time.Duration `conf:"default:5s"`
			IOTimeout   time.Duration `conf:"default:30s"`
		}
		Web struct {
			APIHost         string        `conf:"default:0.0.0.0:8080"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
		}
		Log struct {
			Level   string `conf:"default:info"`
			Console bool   `conf:"default:false"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof-of-work ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "LEDGER"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// Logging

	log, err := logger.Build(logger.Config{
		Service: "NODE",
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Run

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = node.Run(ctx, log, node.Config{
		DataDir:         cfg.Node.DataDir,
		NodeID:          cfg.Node.ID,
		Host:            cfg.Node.Host,
		APIHost:         cfg.Web.APIHost,
		KnownNodes:      cfg.Node.KnownNodes,
		MinerAddress:    cfg.Mining.MinerAddress,
		Difficulty:      cfg.Ledger.Difficulty,
		MineThreshold:   cfg.Mining.Threshold,
		DialTimeout:     cfg.Net.DialTimeout,
		IOTimeout:       cfg.Net.IOTimeout,
		ShutdownTimeout: cfg.Web.ShutdownTimeout,
		ValidateImports: cfg.Ledger.ValidateImports,
	})
	if err != nil {
		log.Errorw("startup", "ERROR", err)
		return err
	}

	return nil
}
