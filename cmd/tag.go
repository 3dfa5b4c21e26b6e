package cmd

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

var tagColor string

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage issue tags",
	Long:  "Create, list, and delete tags for organizing issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun()
	},
}

var tagListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagListRun()
	},
}

var tagCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagCreateRun(args[0])
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a tag and detach it from all issues",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tagDeleteRun(args[0])
	},
}

func init() {
	tagCreateCmd.Flags().StringVar(&tagColor, "color", models.DefaultTagColor, "Hex color, e.g. #ef4444")

	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagCreateCmd)
	tagCmd.AddCommand(tagDeleteCmd)
	rootCmd.AddCommand(tagCmd)
}

func tagListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	tags, err := s.ListTags(context.Background())
	if err != nil {
		return err
	}

	if len(tags) == 0 {
		ui.Info("No tags. Use 'tracker tag create <name>' to create one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Color", "Created"})
	for _, t := range tags {
		_ = table.Append([]string{
			fmt.Sprintf("%d", t.ID),
			output.Cyan(t.Name),
			t.Color,
			t.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func tagCreateRun(name string) error {
	if !hexColor.MatchString(tagColor) {
		return fmt.Errorf("invalid color %q: want #rrggbb", tagColor)
	}

	if dryRun {
		ui.DryRunMsg("Would create tag: %s (%s)", name, tagColor)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	tag := &models.Tag{Name: name, Color: tagColor}
	if err := s.CreateTag(context.Background(), tag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("tag %q already exists", name)
		}
		return fmt.Errorf("create tag: %w", err)
	}

	ui.Success("Created tag: %s (id %d)", output.Cyan(name), tag.ID)
	return nil
}

func tagDeleteRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tag, err := s.GetTagByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("tag not found: %s", name)
	}
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete tag: %s", name)
		return nil
	}

	if err := s.DeleteTag(ctx, tag.ID); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}

	ui.Success("Deleted tag: %s", name)
	return nil
}

// resolveTagIDs maps tag names to ids.
func resolveTagIDs(ctx context.Context, s store.Store, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		tag, err := s.GetTagByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("tag not found: %s", name)
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, tag.ID)
	}
	return ids, nil
}
