package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultAddr    = "127.0.0.1:7777"
	defaultTimeout = 5 * time.Second
)

func main() {
	log.SetFlags(log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "client",
		Short:        "Probe an arena server as a player",
		SilenceUsage: true,
	}
	root.AddCommand(newConnectCmd())
	return root
}

func newConnectCmd() *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Register as a player and print every frame the server sends",
		Long: `Connects to the server, registers the player and prints the frames it receives.
Lines read from stdin are sent as input frames, /respawn sends the respawn command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Handle SIGINT and SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return connect(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", defaultAddr, "server endpoint")
	cmd.Flags().StringVar(&opts.player, "player", "", "player name to register")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "dial and handshake timeout")
	cmd.MarkFlagRequired("player")

	return cmd
}
