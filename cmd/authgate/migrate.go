package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/authgate/internal/config"
	"github.com/iliyamo/authgate/internal/database"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Run database migrations",
		Long:      `Apply, roll back or inspect the users schema in the MySQL database.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE:      runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) == 1 {
		command = args[0]
	}

	dbCfg, err := config.LoadDB()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	cmd.Println("Connecting to database...")
	db, err := database.Open(dbCfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	cmd.Printf("Running migrate %s...\n", command)
	if err := database.Migrate(cmd.Context(), db, command); err != nil {
		return oops.Code("MIGRATION_FAILED").With("command", command).Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
