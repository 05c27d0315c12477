package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "show migration status without applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	out := cmd.OutOrStdout()
	if statusOnly, _ := cmd.Flags().GetBool("status"); statusOnly {
		statuses, err := db.MigrateStatus(ctx, database)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT")
		for _, s := range statuses {
			state, at := "pending", "-"
			if s.Applied {
				state = "applied"
				if s.AppliedAt != nil {
					at = s.AppliedAt.Format(time.RFC3339)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, state, at)
		}
		return w.Flush()
	}

	applied, err := db.MigrateUp(ctx, database)
	if err != nil {
		return err
	}
	for _, id := range applied {
		logger.Info("migration applied", "migration", id)
	}
	fmt.Fprintf(out, "%d migration(s) applied\n", len(applied))
	return nil
}
