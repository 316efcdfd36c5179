package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mirrortrade/assistant/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return db.Migrate(cfg.Postgres.ConnectionString(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
