// File: cmd/replay.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/engine"
	"github.com/xkilldash9x/synapse-cli/internal/observability"
	"github.com/xkilldash9x/synapse-cli/internal/service"
)

// ReplaySummary aggregates the outcomes of a replayed batch.
type ReplaySummary struct {
	Contexts      int     `json:"contexts"`
	Passes        int     `json:"passes"`
	Decided       int     `json:"decided"`
	Invalid       int     `json:"invalid"`
	Unhandled     int     `json:"unhandled"`
	Failed        int     `json:"failed"`
	Exact         int     `json:"exact"`
	Approximate   int     `json:"approximate"`
	Missed        int     `json:"missed"`
	LowConfidence int     `json:"low_confidence"`
	TotalROI      float64 `json:"total_projected_roi"`
	AverageROI    float64 `json:"average_projected_roi"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	Elapsed       string  `json:"elapsed"`
}

func (s *ReplaySummary) add(outcomes []engine.Outcome) {
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
		case errors.Is(o.Err, schemas.ErrInvalidContext):
			s.Invalid++
			continue
		case errors.Is(o.Err, schemas.ErrUnhandledScenario):
			s.Unhandled++
			continue
		default:
			s.Failed++
			continue
		}

		s.Decided++
		s.TotalROI += o.Decision.ProjectedROI
		if o.Decision.LowConfidence {
			s.LowConfidence++
		}
		switch o.Decision.Match {
		case schemas.MatchExact:
			s.Exact++
		case schemas.MatchApproximate:
			s.Approximate++
		default:
			s.Missed++
		}
	}
	if s.Decided > 0 {
		s.AverageROI = s.TotalROI / float64(s.Decided)
	}
}

// newReplayCmd creates the `replay` command, which runs a recorded batch of
// contexts through the engine concurrently.
func newReplayCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		concurrency int
		passes      int
		asJSON      bool
	)

	replayCmd := &cobra.Command{
		Use:   "replay [contexts.json|-]",
		Short: "Replay a batch of disruption contexts and summarize the decisions",
		Long: `Reads a JSON array or newline-delimited JSON of disruption contexts and
decides them concurrently. With --passes greater than one the batch is replayed
against the warmed cache.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.SetEngineConcurrency(concurrency)
			}
			if passes < 1 {
				return fmt.Errorf("--passes must be at least 1, got %d", passes)
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

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			summary := ReplaySummary{Contexts: len(contexts)}
			start := time.Now()
			for pass := 1; pass <= passes; pass++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcomes := components.DecideAll(contexts, cfg.Engine().Concurrency)
				summary.add(outcomes)
				summary.Passes = pass
				// Later passes should see this pass's write-backs.
				components.Engine.Sync()
				logger.Debug("Replay pass complete", zap.Int("pass", pass), zap.Int("contexts", len(contexts)))
			}
			summary.Elapsed = time.Since(start).Round(time.Microsecond).String()
			summary.CacheHitRate = components.Cache.Stats().HitRate()

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary, false)
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}

	replayCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Number of concurrent decision cycles. (Overrides config/env)")
	replayCmd.Flags().IntVar(&passes, "passes", 1, "How many times to replay the batch.")
	replayCmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON.")
	return replayCmd
}

func printSummary(w io.Writer, s ReplaySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value interface{}
	}{
		{"Contexts", s.Contexts},
		{"Passes", s.Passes},
		{"Decided", s.Decided},
		{"Invalid", s.Invalid},
		{"Unhandled", s.Unhandled},
		{"Failed", s.Failed},
		{"Exact hits", s.Exact},
		{"Approximate hits", s.Approximate},
		{"Synthesized", s.Missed},
		{"Low confidence", s.LowConfidence},
		{"Total projected ROI", fmt.Sprintf("%.2f", s.TotalROI)},
		{"Average projected ROI", fmt.Sprintf("%.2f", s.AverageROI)},
		{"Cache hit rate", fmt.Sprintf("%.1f%%", s.CacheHitRate*100)},
		{"Elapsed", s.Elapsed},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%v\n", r.label, r.value)
	}
	return tw.Flush()
}
