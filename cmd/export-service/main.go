package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/db"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
)

func createRootCommand(cfg *config.ExportConfig, log *zap.SugaredLogger) *cobra.Command {

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use:          "export-service",
		SilenceUsage: true,
	}

	var apiCmd = &cobra.Command{
		Use:   "api",
		Short: "Run the export api",
		Run: func(cmd *cobra.Command, args []string) {
			startApiServer(cfg, log)
		},
	}

	var workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume queued export jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startWorker(cfg, log)
		},
	}

	var migrateCmd = &cobra.Command{
		Use:       "migrate_db [up|down]",
		Short:     "Run the database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{db.MigrateUp, db.MigrateDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			return performDbMigration(cfg, log, args[0])
		},
	}

	var janitorCmd = &cobra.Command{
		Use:   "janitor",
		Short: "Fail export jobs stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJanitor(cfg, log)
		},
	}

	rootCmd.AddCommand(apiCmd, workerCmd, migrateCmd, janitorCmd)

	return rootCmd
}

func main() {
	cfg := config.Get()
	log := logger.Get(cfg)

	cmd := createRootCommand(cfg, log)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
