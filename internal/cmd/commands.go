package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyderes/social-autopilot/internal/drafts"
)

// withApp builds the component graph for a one-shot command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHuntCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "hunt",
		Short: "Run one hunt pass for the active campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.sniper.Hunt(ctx, force)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "hunt even when the scheduler is disabled")
	return cmd
}

func newSyncMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-metrics",
		Short: "Refresh engagement for published posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.syncer.Sync(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newCleanupCmd() *cobra.Command {
	var below int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete unpublished drafts scoring below a threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			if below < 0 || below > 100 {
				return fmt.Errorf("--below must be between 0 and 100, got %d", below)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.drafts.Cleanup(ctx, below)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d drafts\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&below, "below", 0, "score threshold (default is the scoring threshold)")
	return cmd
}

// parseThresholds reads a comma separated list of scores.
func parseThresholds(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("invalid threshold %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one threshold is required")
	}
	return out, nil
}

func writeThresholdReport(w io.Writer, rows []drafts.ThresholdRow, total int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "THRESHOLD\tELIGIBLE\tSHARE\tPUBLISHED\tFAILED\tPUBLISH RATE\n")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%.1f%%\t%d\t%d\t%.1f%%\n",
			r.Threshold, r.Eligible, r.Share*100, r.Published, r.Failed, r.PublishRate*100)
	}
	fmt.Fprintf(tw, "total drafts: %d\n", total)
	return tw.Flush()
}

func newThresholdReportCmd() *cobra.Command {
	var thresholds string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "threshold-report",
		Short: "Show how many drafts each score threshold would surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseThresholds(thresholds)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rows, total, err := drafts.ThresholdReport(ctx, a.store, ts)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"total": total, "rows": rows})
				}
				return writeThresholdReport(cmd.OutOrStdout(), rows, total)
			})
		},
	}
	cmd.Flags().StringVar(&thresholds, "thresholds", "70,80,90", "comma separated thresholds")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				m, ok := a.store.(migrator)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "storage %q needs no migration\n", a.cfg.Storage.Type)
					return nil
				}
				if err := m.Migrate(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
				return nil
			})
		},
	}
}
