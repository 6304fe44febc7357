package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hyperengineering/pillars/internal/config"
	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/types"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var syncJSONOutput bool

var syncCmd = &cobra.Command{
	Use:       "sync <type>",
	Short:     "Run one sync for an integration",
	Long:      "Runs every active mapping of the integration once and writes the results, without starting the server.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: types.IntegrationTypes,
	RunE:      runSyncCmd,
}

func init() {
	syncCmd.Flags().BoolVar(&syncJSONOutput, "json", false, "Output in JSON format")
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	t := types.IntegrationType(args[0])
	if !t.Valid() {
		return fmt.Errorf("unknown integration type %q (want one of %v)", args[0], types.IntegrationTypes)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.LoadLocal()
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout carries only the result.
	slog.SetDefault(newLogger(os.Stderr, cfg.Log))

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	res, err := svc.orchestrator.Sync(ctx, t)
	if err != nil {
		return fmt.Errorf("sync %s: %w", t, err)
	}

	if syncJSONOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}
	return writeSyncTable(cmd.OutOrStdout(), t, res)
}

// writeSyncTable renders one row per mapping followed by the run totals.
func writeSyncTable(w io.Writer, t types.IntegrationType, res *pillarsync.Result) error {
	if len(res.Mappings) == 0 {
		_, err := fmt.Fprintf(w, "No active mappings for %s.\n", t)
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Mapping", "Metric", "Value", "Matched", "Discarded", "Result"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, o := range res.Mappings {
		value := "-"
		if o.Value != nil {
			value = strconv.FormatFloat(*o.Value, 'f', -1, 64)
		}
		result := "updated"
		if !o.Updated {
			result = redStatus.Sprint("failed: " + o.Error)
		}
		data = append(data, []string{
			o.MappingID,
			o.MetricID,
			value,
			strconv.Itoa(o.Matched),
			strconv.Itoa(o.Discarded),
			result,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "Sync %s: %d fetched, %d updated, %d failed, %d values discarded (log %s)\n",
		t, res.RecordsFetched, res.RecordsUpdated, res.MappingsFailed, res.ValuesDiscarded, res.LogID)
	return err
}
