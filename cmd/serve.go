package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

func newServeCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		Long: `Serves the status and discovery API together with /healthz, /readyz
and /metrics, and runs every job on its configured cron schedule until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context(), !noSchedule); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without running scheduled jobs")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the link tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print link counts and the enabled tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.Store().Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("load stats: %w", err)
			}
			caps := appInstance.Capabilities()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{"stats": stats, "capabilities": caps.List()}); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "links\t%d\n", stats.Total)
			fmt.Fprintf(tw, "dead\t%d\n", stats.Dead)
			fmt.Fprintf(tw, "archived\t%d\n", stats.Archived)
			fmt.Fprintf(tw, "snapshotted\t%d\n", stats.Snapshotted)
			fmt.Fprintf(tw, "remediated\t%d\n", stats.Remediated)
			fmt.Fprintf(tw, "queued\t%d\n", stats.QueueDepth)
			fmt.Fprintf(tw, "domains\t%d\n", stats.Domains)
			hints := appInstance.Config().CapabilityHints()
			for _, c := range link.AllCapabilities {
				state := "enabled"
				if !caps.Has(c) {
					state = "unavailable (" + hints[c] + ")"
				}
				fmt.Fprintf(tw, "tier %s\t%s\n", c, state)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write status: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
