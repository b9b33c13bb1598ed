package main

import (
	"github.com/spf13/cobra"

	"github.com/iliyamo/authgate/internal/config"
)

// Global flags available to all subcommands.
var envFile string

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "authgate - credential authentication service",
		Long: `authgate registers users, verifies their credentials and issues
signed, expiring access tokens that guard protected endpoints.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file seeding the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
