// Package cmd implements the ledger command line: wallets, ledger creation
// and inspection, transfers and running a node.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"mini-ledger/blockchain"
	"mini-ledger/node"
	"mini-ledger/wallet"
)

const defaultDifficulty = 4

// annotationNoStore marks commands that do not touch the node's stores.
const annotationNoStore = "nostore"

// settings holds the persistent flags shared by every command.
type settings struct {
	nodeID     string
	dataDir    string
	difficulty int
}

// Execute runs the command named by the process arguments.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var s settings

	rootCmd := &cobra.Command{
		Use:           "ledger",
		Short:         "A small proof-of-work ledger and its node",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoStore] != "" {
				return nil
			}
			if s.nodeID == "" {
				s.nodeID = os.Getenv("NODE_ID")
			}
			if s.nodeID == "" {
				return fmt.Errorf("node id is not set: use --node-id or the NODE_ID env var")
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&s.nodeID, "node-id", "n", "", "Node id, suffixes the store file names (defaults to NODE_ID).")
	rootCmd.PersistentFlags().StringVarP(&s.dataDir, "data-dir", "d", ".", "Directory holding the stores and wallets.")
	rootCmd.PersistentFlags().IntVar(&s.difficulty, "difficulty", defaultDifficulty, "Leading zero hex digits required of a block hash.")

	rootCmd.AddCommand(
		createWalletCmd(&s),
		listAddressesCmd(&s),
		createLedgerCmd(&s),
		getBalanceCmd(&s),
		sendCmd(&s),
		printChainCmd(&s),
		reindexUTXOCmd(&s),
		countUTXOCmd(&s),
		startNodeCmd(&s),
		listPeersCmd(&s),
	)

	return rootCmd
}

// =============================================================================

// store is an opened ledger and its utxo index.
type store struct {
	bc       *blockchain.Blockchain
	utxo     *blockchain.UTXOSet
	blocksDB *bbolt.DB
	stateDB  *bbolt.DB
}

func (st *store) Close() {
	st.stateDB.Close()
	st.blocksDB.Close()
}

// openStore opens the stores of the node and the ledger in them.
func (s *settings) openStore() (*store, error) {
	blocksDB, err := blockchain.OpenDB(node.BlocksPath(s.dataDir, s.nodeID))
	if err != nil {
		return nil, err
	}

	bc, err := blockchain.OpenBlockchain(blocksDB, s.ledgerConfig())
	if err != nil {
		blocksDB.Close()
		return nil, err
	}

	stateDB, err := blockchain.OpenDB(node.ChainstatePath(s.dataDir, s.nodeID))
	if err != nil {
		blocksDB.Close()
		return nil, err
	}

	st := store{
		bc:       bc,
		utxo:     blockchain.NewUTXOSet(bc, stateDB),
		blocksDB: blocksDB,
		stateDB:  stateDB,
	}

	return &st, nil
}

func (s *settings) ledgerConfig() blockchain.Config {
	return blockchain.Config{Difficulty: s.difficulty}
}

func (s *settings) wallets() (*wallet.Wallets, error) {
	return wallet.NewWallets(node.WalletsDir(s.dataDir, s.nodeID))
}
