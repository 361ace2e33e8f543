// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/synapse-cli/internal/observability"
	"github.com/xkilldash9x/synapse-cli/internal/server"
	"github.com/xkilldash9x/synapse-cli/internal/service"
)

// newServeCmd creates the `serve` command, which exposes the engine over HTTP
// until the process is signalled.
func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve decisions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.SetServerAddr(addr)
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			// Runs after the HTTP server has drained.
			defer components.Shutdown()

			srv, err := server.New(cfg.Server(), components, logger)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address, e.g. :8080. (Overrides config/env)")
	return serveCmd
}
