// Command mcp-gateway runs the federation gateway as a standalone process.
// Grounded in the teacher's cobra-based cmd/docker-mcp entrypoint shape
// (root command plus flags bound with pflag), adapted from a docker CLI
// plugin to a standalone binary since this gateway has no host CLI to plug
// into.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpfed/gateway/pkg/config"
	"github.com/mcpfed/gateway/pkg/gateway"
	"github.com/mcpfed/gateway/pkg/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "mcp-gateway",
		Short: "Multi-tenant reverse proxy and federation layer for MCP servers",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "gateway.yaml", "path to the gateway config file")

	root.AddCommand(newServeCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and serve MCP transports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			watcher, err := config.NewWatcher(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			gw, err := gateway.New(watcher)
			if err != nil {
				return fmt.Errorf("construct gateway: %w", err)
			}

			addr := listenAddr
			if addr == "" {
				addr = watcher.Current().ListenAddr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log.Logf("starting mcp-gateway (config: %s)", *configPath)
			return gw.Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides the config file's listen_addr)")
	return cmd
}
