package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/evidence-pipeline/internal/server"
)

func dbhealthCmd(g *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Connect to the database, bootstrap the schema and ping it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := g.load()
			ctx := cmd.Context()
			db, err := server.ConnectDB(ctx, cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("opening DB: %w", err)
			}
			defer server.CloseDB(db, logger)

			if err := db.HealthCheck(ctx, timeout, logger); err != nil {
				return fmt.Errorf("DB health: FAIL (%w)", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "DB health: OK (%s)\n", db.Dialect())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "ping timeout")
	return cmd
}
