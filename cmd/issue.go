package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

var (
	issueTitle    string
	issueDesc     string
	issuePriority string
	issueStatus   string
	issueCreator  string
	issueAssignee string
	issueTags     []string
	issueTag      string
	issueSearch   string
	issuePage     int
	issueLimit    int
	issueUnassign bool
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues",
	Long:  "Create, list, update and delete issues directly in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueCreateCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"add"},
	Short:   "Create an issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCreateRun()
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Update an issue",
	Long:  "Update an issue. Only the flags given are changed; --tag replaces the tag set.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(cmd, args[0])
	},
}

var issueTagCmd = &cobra.Command{
	Use:   "tag <issue-id> [tag-name...]",
	Short: "Replace the tags of an issue",
	Long:  "Replace the tags of an issue with the named tags. With no names, all tags are removed.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTagRun(args[0], args[1:])
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:     "delete <issue-id>",
	Aliases: []string{"rm"},
	Short:   "Delete an issue",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDeleteRun(args[0])
	},
}

func init() {
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: not_started, in_progress, done")
	issueListCmd.Flags().StringVar(&issuePriority, "priority", "", "Filter by priority: low, medium, high, urgent")
	issueListCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Filter by assignee email or id")
	issueListCmd.Flags().StringVar(&issueTag, "tag", "", "Filter by tag name")
	issueListCmd.Flags().StringVar(&issueSearch, "search", "", "Search title and description")
	issueListCmd.Flags().IntVar(&issuePage, "page", 1, "Page number")
	issueListCmd.Flags().IntVar(&issueLimit, "limit", 20, "Issues per page")

	issueCreateCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueCreateCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	issueCreateCmd.Flags().StringVar(&issuePriority, "priority", string(models.IssuePriorityMedium), "Priority: low, medium, high, urgent")
	issueCreateCmd.Flags().StringVar(&issueStatus, "status", string(models.IssueStatusNotStarted), "Status: not_started, in_progress, done")
	issueCreateCmd.Flags().StringVar(&issueCreator, "creator", "", "Creator email or id (required)")
	issueCreateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee email or id")
	issueCreateCmd.Flags().StringSliceVar(&issueTags, "tag", nil, "Tag name (repeatable)")
	_ = issueCreateCmd.MarkFlagRequired("title")
	_ = issueCreateCmd.MarkFlagRequired("creator")

	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "New status")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "New assignee email or id")
	issueUpdateCmd.Flags().BoolVar(&issueUnassign, "unassign", false, "Remove the assignee")
	issueUpdateCmd.Flags().StringSliceVar(&issueTags, "tag", nil, "Replace tags with these names (repeatable)")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueTagCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	rootCmd.AddCommand(issueCmd)
}

func parseIssueID(ref string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(ref, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid issue id: %s", ref)
	}
	return id, nil
}

func findIssue(ctx context.Context, s store.Store, ref string) (*models.Issue, error) {
	id, err := parseIssueID(ref)
	if err != nil {
		return nil, err
	}
	issue, err := s.GetIssue(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("issue not found: %d", id)
	}
	return issue, err
}

func validateStatusPriority(status, priority string) error {
	if status != "" && !models.IssueStatus(status).Valid() {
		return fmt.Errorf("invalid status %q: want not_started, in_progress or done", status)
	}
	if priority != "" && !models.IssuePriority(priority).Valid() {
		return fmt.Errorf("invalid priority %q: want low, medium, high or urgent", priority)
	}
	return nil
}

func issueListRun() error {
	if err := validateStatusPriority(issueStatus, issuePriority); err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.IssueListFilter{
		Status:     models.IssueStatus(issueStatus),
		Priority:   models.IssuePriority(issuePriority),
		Search:     issueSearch,
		Pagination: store.Pagination{Page: issuePage, Limit: issueLimit},
	}
	if issueAssignee != "" {
		u, err := resolveUser(ctx, s, issueAssignee)
		if err != nil {
			return err
		}
		filter.AssignedUserID = u.ID
	}
	if issueTag != "" {
		ids, err := resolveTagIDs(ctx, s, []string{issueTag})
		if err != nil {
			return err
		}
		filter.TagID = ids[0]
	}

	issues, total, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Assignee", "Tags"})
	for _, issue := range issues {
		assignee := ""
		if issue.AssignedUser != nil {
			assignee = issue.AssignedUser.Name
		}
		_ = table.Append([]string{
			fmt.Sprintf("%d", issue.ID),
			output.Truncate(issue.Title, 50),
			output.StatusColor(string(issue.Status)),
			output.PriorityColor(string(issue.Priority)),
			assignee,
			strings.Join(tagNames(issue.Tags), ", "),
		})
	}
	_ = table.Render()

	if issueLimit > 0 && total > len(issues) {
		pages := (total + issueLimit - 1) / issueLimit
		ui.Info("Page %d of %d (%d issues)", issuePage, pages, total)
	}
	return nil
}

func tagNames(tags []models.Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

func issueShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	issue, err := findIssue(context.Background(), s, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(fmt.Sprintf("#%d", issue.ID)), issue.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(issue.Priority)))
	if issue.CreatedByUser != nil {
		fmt.Fprintf(ui.Out, "  Creator:    %s <%s>\n", issue.CreatedByUser.Name, issue.CreatedByUser.Email)
	}
	if issue.AssignedUser != nil {
		fmt.Fprintf(ui.Out, "  Assignee:   %s <%s>\n", issue.AssignedUser.Name, issue.AssignedUser.Email)
	}
	if len(issue.Tags) > 0 {
		fmt.Fprintf(ui.Out, "  Tags:       %s\n", strings.Join(tagNames(issue.Tags), ", "))
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", issue.UpdatedAt.Format(time.RFC3339))
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s\n", issue.Description)
	}
	return nil
}

func issueCreateRun() error {
	if strings.TrimSpace(issueTitle) == "" {
		return fmt.Errorf("--title is required")
	}
	if err := validateStatusPriority(issueStatus, issuePriority); err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	creator, err := resolveUser(ctx, s, issueCreator)
	if err != nil {
		return err
	}
	issue := &models.Issue{
		Title:           strings.TrimSpace(issueTitle),
		Description:     issueDesc,
		Status:          models.IssueStatus(issueStatus),
		Priority:        models.IssuePriority(issuePriority),
		CreatedByUserID: creator.ID,
	}
	if issueAssignee != "" {
		u, err := resolveUser(ctx, s, issueAssignee)
		if err != nil {
			return err
		}
		issue.AssignedUserID = &u.ID
	}
	tagIDs, err := resolveTagIDs(ctx, s, issueTags)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create issue: %s", issue.Title)
		return nil
	}

	if err := s.CreateIssue(ctx, issue, tagIDs); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created issue #%d: %s", issue.ID, issue.Title)
	return nil
}

func issueUpdateRun(cmd *cobra.Command, ref string) error {
	if err := validateStatusPriority(issueStatus, issuePriority); err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, ref)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	changed := false
	if flags.Changed("title") {
		if strings.TrimSpace(issueTitle) == "" {
			return fmt.Errorf("--title cannot be empty")
		}
		issue.Title = strings.TrimSpace(issueTitle)
		changed = true
	}
	if flags.Changed("desc") {
		issue.Description = issueDesc
		changed = true
	}
	if flags.Changed("status") {
		issue.Status = models.IssueStatus(issueStatus)
		changed = true
	}
	if flags.Changed("priority") {
		issue.Priority = models.IssuePriority(issuePriority)
		changed = true
	}
	if issueUnassign {
		issue.AssignedUserID = nil
		changed = true
	} else if flags.Changed("assignee") {
		u, err := resolveUser(ctx, s, issueAssignee)
		if err != nil {
			return err
		}
		issue.AssignedUserID = &u.ID
		changed = true
	}

	// nil leaves the tag set untouched.
	var tagIDs []int64
	if flags.Changed("tag") {
		if tagIDs, err = resolveTagIDs(ctx, s, issueTags); err != nil {
			return err
		}
		changed = true
	}

	if !changed {
		return fmt.Errorf("no updates specified (use --title, --desc, --status, --priority, --assignee, --unassign or --tag)")
	}

	if dryRun {
		ui.DryRunMsg("Would update issue #%d", issue.ID)
		return nil
	}

	if err := s.UpdateIssue(ctx, issue, tagIDs); err != nil {
		return fmt.Errorf("update issue: %w", err)
	}

	ui.Success("Updated issue #%d", issue.ID)
	return nil
}

func issueTagRun(ref string, names []string) error {
	id, err := parseIssueID(ref)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tagIDs, err := resolveTagIDs(ctx, s, names)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set tags of issue #%d to [%s]", id, strings.Join(names, ", "))
		return nil
	}

	if err := s.SetIssueTags(ctx, id, tagIDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("issue not found: %d", id)
		}
		return fmt.Errorf("set tags: %w", err)
	}

	if len(names) == 0 {
		ui.Success("Removed all tags from issue #%d", id)
	} else {
		ui.Success("Tagged issue #%d: %s", id, strings.Join(names, ", "))
	}
	return nil
}

func issueDeleteRun(ref string) error {
	id, err := parseIssueID(ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete issue #%d", id)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeleteIssue(context.Background(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("issue not found: %d", id)
		}
		return fmt.Errorf("delete issue: %w", err)
	}

	ui.Success("Deleted issue #%d", id)
	return nil
}
