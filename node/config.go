// Package node wires the stores, the ledger, the sync server and the HTTP
// api into one running process.
package node

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"mini-ledger/wallet"
)

// Config is the configuration of a running node.
type Config struct {
	DataDir         string        `validate:"required"`
	NodeID          string        `validate:"required,alphanum"`
	Host            string        `validate:"required,hostname_port"`
	APIHost         string        `validate:"omitempty,hostname_port"`
	KnownNodes      []string      `validate:"dive,hostname_port"`
	MinerAddress    string        `validate:"omitempty,alphanum"`
	Difficulty      int           `validate:"min=0,max=64"`
	MineThreshold   int           `validate:"min=1"`
	DialTimeout     time.Duration `validate:"min=0"`
	IOTimeout       time.Duration `validate:"min=0"`
	ShutdownTimeout time.Duration `validate:"min=0"`
	ValidateImports bool
}

// Validate checks the configuration and that the miner address, if any,
// carries a valid checksum.
func (cfg Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if cfg.MinerAddress != "" && !wallet.ValidateAddress(cfg.MinerAddress) {
		return fmt.Errorf("validating config: %w %q", wallet.ErrInvalidAddress, cfg.MinerAddress)
	}

	return nil
}

// BlocksPath is the block store of node id under dataDir.
func BlocksPath(dataDir, nodeID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("blockchain_%s.db", nodeID))
}

// ChainstatePath is the utxo store of node id under dataDir.
func ChainstatePath(dataDir, nodeID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("chainstate_%s.db", nodeID))
}

// WalletsDir is the key directory of node id under dataDir.
func WalletsDir(dataDir, nodeID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("wallets_%s", nodeID))
}
