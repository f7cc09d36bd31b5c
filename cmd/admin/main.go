package main

import (
	"os"

	"github.com/spf13/cobra"

	"homeledger/internal/infrastructure/postgres"
	"homeledger/internal/shared/logger"
)

func NewRootCommand() *cobra.Command {
	var userID int64
	var connectionID string
	var timeout string

	// rootCmd represents the base command when called without any subcommands
	rootCmd := &cobra.Command{
		Use:          "admin",
		Short:        "Homeledger Admin CLI - management commands for the Homeledger API",
		SilenceUsage: true,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(postgres.Up)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(postgres.Down)
			},
		},
	)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a manual sync for one connection",
		Example: `  admin sync --user-id=1 --connection=9f0c...
  admin sync --user-id=1 --connection=9f0c... --timeout=5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(userID, connectionID, timeout)
		},
	}

	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Compare a connection's remote accounts with local accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(userID, connectionID, timeout)
		},
	}

	importAllCmd := &cobra.Command{
		Use:   "import-all",
		Short: "Import every unmatched remote account of a connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportAll(userID, connectionID, timeout)
		},
	}

	for _, c := range []*cobra.Command{syncCmd, reviewCmd, importAllCmd} {
		c.Flags().Int64VarP(&userID, "user-id", "u", 0, "Owner of the connection")
		c.Flags().StringVarP(&connectionID, "connection", "c", "", "Connection ID")
		c.Flags().StringVarP(&timeout, "timeout", "t", "10m", "Timeout for the operation (e.g., 5m, 1h)")
		_ = c.MarkFlagRequired("user-id")
		_ = c.MarkFlagRequired("connection")
	}

	rootCmd.AddCommand(migrateCmd, syncCmd, reviewCmd, importAllCmd)
	return rootCmd
}

func main() {
	logger.InitLogger()

	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
