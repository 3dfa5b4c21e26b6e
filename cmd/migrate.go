package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrateRun()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrateRun() error {
	dbPath := viper.GetString("db_path")
	if dryRun {
		ui.DryRunMsg("Would migrate database: %s", dbPath)
		return nil
	}
	// getStore applies pending migrations when it opens the database.
	if _, err := getStore(); err != nil {
		return err
	}
	ui.Success("Database is up to date: %s", dbPath)
	return nil
}
