package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mini-ledger/logger"
	"mini-ledger/network"
	"mini-ledger/network/peer"
	"mini-ledger/node"
)

func startNodeCmd(s *settings) *cobra.Command {
	var (
		port           string
		miner          string
		apiHost        string
		knownNodes     []string
		mineThreshold  int
		validateImport bool
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "startnode",
		Short: "Run a node that syncs with its peers and optionally mines.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.Build(logger.Config{Service: "NODE", Level: logLevel, Console: true})
			if err != nil {
				return err
			}
			defer log.Sync()

			if port == "" {
				port = s.nodeID
			}

			cfg := node.Config{
				DataDir:         s.dataDir,
				NodeID:          s.nodeID,
				Host:            fmt.Sprintf("localhost:%s", port),
				APIHost:         apiHost,
				KnownNodes:      knownNodes,
				MinerAddress:    miner,
				Difficulty:      s.difficulty,
				MineThreshold:   mineThreshold,
				DialTimeout:     5 * time.Second,
				IOTimeout:       30 * time.Second,
				ShutdownTimeout: 20 * time.Second,
				ValidateImports: validateImport,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if miner != "" {
				log.Infow("startup", "status", "mining is on", "miner", miner)
			}

			return node.Run(ctx, log, cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port the node listens on (defaults to the node id).")
	cmd.Flags().StringVar(&miner, "miner", "", "Enable mining and send rewards to this address.")
	cmd.Flags().StringVar(&apiHost, "api", "", "Host the HTTP api listens on, disabled when empty.")
	cmd.Flags().StringSliceVar(&knownNodes, "known", network.DefaultKnownNodes, "Nodes to introduce this node to.")
	cmd.Flags().IntVar(&mineThreshold, "mine-threshold", 2, "Mempool size that triggers mining.")
	cmd.Flags().BoolVar(&validateImport, "validate", false, "Check proof of work of received blocks.")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Minimum level of log entries: debug, info, warn or error.")

	return cmd
}

func listPeersCmd(s *settings) *cobra.Command {
	var apiHost string

	cmd := &cobra.Command{
		Use:         "listpeers",
		Short:       "Print the peers known to a running node.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := http.Client{Timeout: 5 * time.Second}

			resp, err := client.Get(fmt.Sprintf("http://%s/v1/peers", apiHost))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("listing peers: %s", resp.Status)
			}

			var peers []peer.Peer
			if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
				return err
			}

			for _, p := range peers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tversion=%d\theight=%d\n", p.Address, p.Version, p.BestHeight)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiHost, "api", "localhost:8080", "Host of the node's HTTP api.")

	return cmd
}
