// File: cmd/templates.go
package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/observability"
	"github.com/xkilldash9x/synapse-cli/internal/templates"
)

// newTemplatesCmd creates the `templates` command, which lists the catalog.
// It loads the catalog only; no engine is started.
func newTemplatesCmd() *cobra.Command {
	var (
		category string
		asJSON   bool
	)

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "List the solution templates of the configured catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			filter := schemas.Category(strings.ToLower(strings.TrimSpace(category)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown category %q", category)
			}

			store, err := templates.NewFromConfig(cfg.Templates(), cfg.Optimizer(), observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to load template catalog: %w", err)
			}

			var list []templates.Template
			for _, t := range store.Templates() {
				if filter == "" || t.Category == filter {
					list = append(list, t)
				}
			}

			if asJSON {
				if list == nil {
					list = []templates.Template{}
				}
				return writeJSON(cmd.OutOrStdout(), list, false)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tAPPROACH\tACTIONS\tWHEN")
			for _, t := range list {
				when := t.When
				if when == "" {
					when = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Category, t.Approach, len(t.Actions), when)
			}
			return tw.Flush()
		},
	}

	templatesCmd.Flags().StringVar(&category, "category", "", "Only list templates for this category.")
	templatesCmd.Flags().BoolVar(&asJSON, "json", false, "Print the templates as JSON.")
	return templatesCmd
}
