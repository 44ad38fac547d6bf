package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/config"
)

func newAggregateCmd(configPath *string) *cobra.Command {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute daily aggregates for one day or an inclusive range",
		Long: `Recompute the daily aggregates of every tenant for --date, or for each day
from --date through --to. Re-running a day overwrites its rows.

Examples:

  usage-engine aggregate --date 2026-10-16
  usage-engine aggregate --date 2026-10-01 --to 2026-10-16`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := time.Parse(time.DateOnly, fromStr)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			to := from
			if toStr != "" {
				if to, err = time.Parse(time.DateOnly, toStr); err != nil {
					return fmt.Errorf("--to must be YYYY-MM-DD: %w", err)
				}
			}
			if to.Before(from) {
				return fmt.Errorf("--to %s is before --date %s", toStr, fromStr)
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			eng, cleanup, err := openEngine(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := eng.Backfill(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			log.Info("backfill finished",
				zap.String("from", from.Format(time.DateOnly)),
				zap.String("to", to.Format(time.DateOnly)),
				zap.Int("groups_written", n))
			fmt.Fprintf(cmd.OutOrStdout(), "aggregated %s..%s: %d groups written\n",
				from.Format(time.DateOnly), to.Format(time.DateOnly), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromStr, "date", "", "first UTC day to aggregate (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "last UTC day to aggregate, inclusive (defaults to --date)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
