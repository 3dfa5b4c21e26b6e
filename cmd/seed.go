package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/seed"
)

var seedYes bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace all data with a sample data set",
	Long: `Delete every user, tag and issue and insert sample data.

The sample accounts and their passwords are printed when it finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return seedRun()
	},
}

func init() {
	seedCmd.Flags().BoolVarP(&seedYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(seedCmd)
}

func seedRun() error {
	if dryRun {
		ui.DryRunMsg("Would reset %s and insert %d users, %d tags and sample issues",
			viper.GetString("db_path"), len(seed.Users), len(seed.Tags))
		return nil
	}
	if !seedYes {
		return fmt.Errorf("seeding deletes all data in %s; re-run with --yes", viper.GetString("db_path"))
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	res, err := seed.Run(context.Background(), s, func(line string) { ui.VerboseLog("%s", line) })
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	ui.Success("Seeded %d users, %d tags and %d issues", res.Users, res.Tags, res.Issues)
	for _, u := range seed.Users {
		ui.Info("  %s / %s", u.Email, u.Password)
	}
	return nil
}
