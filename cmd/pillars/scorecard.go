package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/hyperengineering/pillars/internal/config"
	"github.com/hyperengineering/pillars/internal/scoring"
	"github.com/hyperengineering/pillars/internal/types"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var (
	scorecardJSONOutput bool
	scorecardNoColor    bool
)

var scorecardCmd = &cobra.Command{
	Use:   "scorecard",
	Short: "Print every pillar with its score and metrics",
	Args:  cobra.NoArgs,
	RunE:  runScorecard,
}

func init() {
	scorecardCmd.Flags().BoolVar(&scorecardJSONOutput, "json", false, "Output in JSON format")
	scorecardCmd.Flags().BoolVar(&scorecardNoColor, "no-color", false, "Disable colored status labels")
}

// scorecardStore is the read surface the scorecard needs.
type scorecardStore interface {
	ListPillars(ctx context.Context) ([]types.Pillar, error)
	ListMetrics(ctx context.Context, pillarID string) ([]types.Metric, error)
}

func runScorecard(cmd *cobra.Command, args []string) error {
	if scorecardNoColor {
		color.NoColor = true
	}

	cfg, err := config.LoadLocal()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.Log))

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	evals, err := buildScorecard(cmd.Context(), svc.store, time.Now().UTC())
	if err != nil {
		return err
	}

	if scorecardJSONOutput {
		return printJSON(cmd.OutOrStdout(), evals)
	}
	return writeScorecard(cmd.OutOrStdout(), evals)
}

// buildScorecard evaluates every pillar with its metrics at now.
func buildScorecard(ctx context.Context, s scorecardStore, now time.Time) ([]scoring.PillarEvaluation, error) {
	pillars, err := s.ListPillars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pillars: %w", err)
	}
	metrics, err := s.ListMetrics(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}

	byPillar := make(map[string][]types.Metric, len(pillars))
	for _, m := range metrics {
		byPillar[m.PillarID] = append(byPillar[m.PillarID], m)
	}

	out := make([]scoring.PillarEvaluation, 0, len(pillars))
	for _, p := range pillars {
		out = append(out, scoring.EvaluatePillar(p, byPillar[p.ID], now))
	}
	return out, nil
}

// writeScorecard renders one row per pillar followed by its metrics.
func writeScorecard(w io.Writer, evals []scoring.PillarEvaluation) error {
	if len(evals) == 0 {
		_, err := fmt.Fprintln(w, "No pillars found.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Pillar", "Metric", "Current", "Target", "Pct", "Status", "Trend"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, p := range evals {
		data = append(data, []string{
			p.Name, "", "", "",
			strconv.Itoa(p.Score) + "%",
			statusLabel(p.Status),
			"",
		})
		for _, m := range p.Metrics {
			name := m.Name
			if m.MetricType != types.MetricKeyResult {
				name += " (" + string(m.MetricType) + ")"
			}
			data = append(data, []string{
				"",
				name,
				formatValue(m.CurrentValue, m.Format, m.Unit),
				formatValue(m.TargetValue, m.Format, m.Unit),
				strconv.Itoa(m.Evaluation.PercentageOfTarget) + "%",
				statusLabel(m.Evaluation.Status),
				trendArrow(m.Evaluation.Trend),
			})
		}
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
