package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mini-ledger/network"
	"mini-ledger/wallet"
)

func sendCmd(s *settings) *cobra.Command {
	var (
		from    string
		to      string
		amount  int
		mine    bool
		nodeURL string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Transfer an amount between addresses.",
		Long:  "Transfer an amount between addresses. With --mine the transaction is mined locally and the sender receives the block reward, otherwise it is submitted to a node.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wallet.PubKeyHashFromAddress(from); err != nil {
				return fmt.Errorf("sender: %w", err)
			}
			toPubKeyHash, err := wallet.PubKeyHashFromAddress(to)
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}

			ws, err := s.wallets()
			if err != nil {
				return err
			}
			w, err := ws.GetWallet(from)
			if err != nil {
				return err
			}

			st, err := s.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if mine {
				if _, err := st.utxo.Send(w.PrivateKey, toPubKeyHash, amount, w.PubKeyHash()); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Success!")
				return nil
			}

			tx, err := st.utxo.NewSignedTransaction(w.PrivateKey, toPubKeyHash, amount)
			if err != nil {
				return err
			}

			data, err := tx.Serialize()
			if err != nil {
				return err
			}

			msg := network.Tx{
				AddrFrom:    fmt.Sprintf("localhost:%s", s.nodeID),
				Transaction: data,
			}
			if err := network.Send(nodeURL, msg, 5*time.Second, 5*time.Second); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Success!")
			return nil
		},
	}

	cmd.Flags().StringVarP(&from, "from", "f", "", "Sender address, its key must be in the node's wallets.")
	cmd.Flags().StringVarP(&to, "to", "t", "", "Recipient address.")
	cmd.Flags().IntVarP(&amount, "amount", "v", 0, "Amount to send.")
	cmd.Flags().BoolVarP(&mine, "mine", "m", false, "Mine the transaction on this node.")
	cmd.Flags().StringVar(&nodeURL, "node", network.DefaultKnownNodes[0], "Node the transaction is submitted to.")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("amount")

	return cmd
}
