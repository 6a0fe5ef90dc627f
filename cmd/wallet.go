package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func createWalletCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "createwallet",
		Short: "Generate a new key pair and store it in the node's wallets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := s.wallets()
			if err != nil {
				return err
			}

			address, err := ws.CreateWallet()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Your new address: %s\n", address)
			return nil
		},
	}
}

func listAddressesCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "listaddresses",
		Short: "List the addresses of the node's wallets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := s.wallets()
			if err != nil {
				return err
			}

			for _, address := range ws.GetAddresses() {
				fmt.Fprintln(cmd.OutOrStdout(), address)
			}
			return nil
		},
	}
}
