package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

var (
	userName     string
	userPassword string
	userSearch   string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userCreateRun(args[0])
	},
}

func init() {
	userListCmd.Flags().StringVar(&userSearch, "search", "", "Filter by name or email")

	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name (required)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password (required)")
	_ = userCreateCmd.MarkFlagRequired("name")
	_ = userCreateCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd)
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, total, err := s.ListUsers(context.Background(), store.UserListFilter{Search: userSearch})
	if err != nil {
		return err
	}
	if total == 0 {
		ui.Info("No users. Use 'tracker user create <email>' to add one.")
		return nil
	}

	table := ui.Table([]string{"Email", "Name", "ID", "Created"})
	for _, u := range users {
		_ = table.Append([]string{
			output.Cyan(u.Email),
			u.Name,
			u.ID,
			u.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func userCreateRun(email string) error {
	email, err := auth.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := auth.ValidatePassword(userPassword); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create user: %s (%s)", userName, email)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return err
	}
	u := &models.User{Email: email, Name: userName, PasswordHash: hash}
	if err := s.CreateUser(context.Background(), u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("user %s already exists", email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	ui.Success("Created user: %s (%s)", output.Cyan(u.Email), u.ID)
	return nil
}

// resolveUser looks a user up by email, falling back to id.
func resolveUser(ctx context.Context, s store.Store, ref string) (*models.User, error) {
	if email, err := auth.NormalizeEmail(ref); err == nil {
		u, err := s.GetUserByEmail(ctx, email)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	u, err := s.GetUser(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user not found: %s", ref)
	}
	return u, err
}
