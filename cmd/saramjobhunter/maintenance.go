package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YonghoLee79/saramjobhunter/internal/usecase"
)

func historyCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent applications, executions and statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newStoreApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			hist, err := a.history.Execute(cmd.Context(), days)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(hist)
		},
	}
	cmd.Flags().IntVar(&days, "days", usecase.DefaultHistoryDays, "number of days to include")
	return cmd
}

func cleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete applications and execution logs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if !cmd.Flags().Changed("days") {
				days = cfg.Storage.RetentionDays
			}

			a, err := newStoreApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.history.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d applications and %d execution logs older than %d days\n",
				res.Applications, res.Executions, days)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default RETENTION_DAYS)")
	return cmd
}
