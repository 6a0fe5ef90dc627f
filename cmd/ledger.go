package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"mini-ledger/blockchain"
	"mini-ledger/node"
	"mini-ledger/wallet"
)

func createLedgerCmd(s *settings) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "createledger",
		Short: "Create a ledger whose genesis block rewards an address.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pubKeyHash, err := wallet.PubKeyHashFromAddress(address)
			if err != nil {
				return err
			}

			db, err := blockchain.OpenDB(node.BlocksPath(s.dataDir, s.nodeID))
			if err != nil {
				return err
			}
			defer db.Close()

			bc, err := blockchain.CreateBlockchain(db, pubKeyHash, s.ledgerConfig())
			if err != nil {
				return err
			}

			stateDB, err := blockchain.OpenDB(node.ChainstatePath(s.dataDir, s.nodeID))
			if err != nil {
				return err
			}
			defer stateDB.Close()

			if err := blockchain.NewUTXOSet(bc, stateDB).Reindex(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Done!")
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Address receiving the genesis reward.")
	cmd.MarkFlagRequired("address")

	return cmd
}

func getBalanceCmd(s *settings) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "getbalance",
		Short: "Print the balance of an address.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pubKeyHash, err := wallet.PubKeyHashFromAddress(address)
			if err != nil {
				return err
			}

			st, err := s.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			balance, err := st.utxo.Balance(pubKeyHash)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Balance of '%s': %d\n", address, balance)
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Address to get the balance of.")
	cmd.MarkFlagRequired("address")

	return cmd
}

func printChainCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "printchain",
		Short: "Print every block from the tip down to genesis.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()

			bci := st.bc.Iterator()
			for block := bci.Next(); block != nil; block = bci.Next() {
				fmt.Fprintf(out, "============ Block %s ============\n", hexutil.Encode(block.Hash))
				fmt.Fprintf(out, "Height: %d\n", block.Height)
				fmt.Fprintf(out, "Prev. block: %s\n", hexutil.Encode(block.PrevBlockHash))
				fmt.Fprintf(out, "Difficulty: %d Nonce: %d\n", block.Difficulty, block.Nonce)
				fmt.Fprintf(out, "PoW: %t\n\n", blockchain.NewProofOfWork(block).Validate())
				for _, tx := range block.Transactions {
					fmt.Fprintln(out, tx)
				}
				fmt.Fprint(out, "\n\n")
			}

			return nil
		},
	}
}

func reindexUTXOCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reindexutxo",
		Short: "Rebuild the utxo index from the chain.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.utxo.Reindex(); err != nil {
				return err
			}

			count, err := st.utxo.CountTransactions()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Done! There are %d transactions in the UTXO set.\n", count)
			return nil
		},
	}
}

func countUTXOCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "countutxo",
		Short: "Print how many transactions hold unspent outputs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			count, err := st.utxo.CountTransactions()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "There are %d transactions in the UTXO set.\n", count)
			return nil
		},
	}
}
