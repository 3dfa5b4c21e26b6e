package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

var (
	apikeyUser string
	apikeyName string
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Long: `Create, list and revoke API keys. A key authenticates REST requests
through the x-api-key header and is what 'tracker mcp' uses.`,
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apikeyCreateRun()
	},
}

var apikeyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List a user's API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apikeyListRun()
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:     "revoke <key-id>",
	Aliases: []string{"rm"},
	Short:   "Revoke an API key",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apikeyRevokeRun(args[0])
	},
}

func init() {
	apikeyCmd.PersistentFlags().StringVarP(&apikeyUser, "user", "u", "", "Owner email or id (required)")
	_ = apikeyCmd.MarkPersistentFlagRequired("user")
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Key name")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}

// apikeyService resolves the --user owner and returns an auth service over
// the local store. API keys never touch the session backend.
func apikeyService(ctx context.Context) (*auth.Service, string, error) {
	s, err := getStore()
	if err != nil {
		return nil, "", err
	}
	u, err := resolveUser(ctx, s, apikeyUser)
	if err != nil {
		return nil, "", err
	}
	return auth.NewService(s, nil, auth.Config{}), u.ID, nil
}

func apikeyCreateRun() error {
	ctx := context.Background()
	svc, userID, err := apikeyService(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create API key for %s", apikeyUser)
		return nil
	}

	key, raw, err := svc.CreateAPIKey(ctx, userID, apikeyName)
	if err != nil {
		return fmt.Errorf("create API key: %w", err)
	}

	ui.Success("Created API key %s (%s)", output.Cyan(key.Name), key.ID)
	fmt.Fprintln(ui.Out, raw)
	ui.Warning("Store this key now; it cannot be shown again.")
	return nil
}

func apikeyListRun() error {
	ctx := context.Background()
	svc, userID, err := apikeyService(ctx)
	if err != nil {
		return err
	}

	keys, err := svc.ListAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		ui.Info("No API keys. Use 'tracker apikey create --user %s' to create one.", apikeyUser)
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Prefix", "Last used", "Created"})
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			k.ID,
			output.Cyan(k.Name),
			k.Prefix + "...",
			lastUsed,
			k.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func apikeyRevokeRun(id string) error {
	ctx := context.Background()
	svc, userID, err := apikeyService(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would revoke API key %s", id)
		return nil
	}

	if err := svc.DeleteAPIKey(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("API key not found: %s", id)
		}
		return fmt.Errorf("revoke API key: %w", err)
	}
	ui.Success("Revoked API key %s", id)
	return nil
}
