// File: cmd/decide.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/internal/observability"
	"github.com/xkilldash9x/synapse-cli/internal/server"
	"github.com/xkilldash9x/synapse-cli/internal/service"
)

// newDecideCmd creates the `decide` command: one context in, one decision out.
func newDecideCmd(factory service.ComponentFactory) *cobra.Command {
	var compact bool

	decideCmd := &cobra.Command{
		Use:   "decide [context.json|-]",
		Short: "Decide how to handle a single disruption",
		Long: `Reads one disruption context as JSON from a file, or from stdin when no
file or "-" is given, and prints the selected decision.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			contexts, err := readContexts(in)
			_ = in.Close()
			if err != nil {
				return err
			}
			if len(contexts) != 1 {
				return fmt.Errorf("decide expects exactly one context, got %d; use replay for batches", len(contexts))
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			d, err := components.Decide(contexts[0])
			if err != nil {
				return err
			}
			logger.Debug("Decision made",
				zap.String("template", d.Winner.TemplateID),
				zap.String("match", string(d.Match)),
				zap.Bool("low_confidence", d.LowConfidence))

			return writeJSON(cmd.OutOrStdout(), server.DecideResponse{
				Decision:   d,
				AutoCommit: d.AutoCommit(),
			}, compact)
		},
	}

	decideCmd.Flags().BoolVar(&compact, "compact", false, "Print the decision on a single line.")
	return decideCmd
}
