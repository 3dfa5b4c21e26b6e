// Package seed loads the sample users, tags and issues used for demos and
// local development.
package seed

import (
	"context"
	"fmt"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// SampleUser is a seeded account with its plain-text password.
type SampleUser struct {
	Email    string
	Name     string
	Password string
}

type sampleIssue struct {
	title       string
	description string
	status      models.IssueStatus
	assignee    int // index into Users, -1 for none
	creator     int
	tags        []int // indexes into Tags
}

// Users are the sample accounts.
var Users = []SampleUser{
	{Email: "john@example.com", Name: "John Doe", Password: "password123"},
	{Email: "jane@example.com", Name: "Jane Smith", Password: "password123"},
	{Email: "admin@example.com", Name: "Admin User", Password: "admin123"},
	{Email: "dev@example.com", Name: "Developer", Password: "dev123"},
}

// Tags are the sample tags.
var Tags = []models.Tag{
	{Name: "frontend", Color: "#3b82f6"},
	{Name: "backend", Color: "#10b981"},
	{Name: "bug", Color: "#ef4444"},
	{Name: "feature", Color: "#8b5cf6"},
	{Name: "enhancement", Color: "#f59e0b"},
	{Name: "documentation", Color: "#6b7280"},
}

var issues = []sampleIssue{
	{
		title:       "Set up project structure",
		description: "Initialize the project with proper directory structure and configuration files.",
		status:      models.IssueStatusDone,
		assignee:    0,
		creator:     2,
		tags:        []int{1},
	},
	{
		title:       "Design user authentication flow",
		description: "Create wireframes and user flows for the authentication system including sign up, sign in, and password reset.",
		status:      models.IssueStatusInProgress,
		assignee:    1,
		creator:     2,
		tags:        []int{0, 3},
	},
	{
		title:       "Fix issue list filtering",
		description: `The issue list filter by status is not working correctly. When selecting "in progress", it shows all issues.`,
		status:      models.IssueStatusNotStarted,
		assignee:    0,
		creator:     1,
		tags:        []int{0, 2},
	},
	{
		title:       "Add dark mode support",
		description: "Implement dark mode toggle functionality with proper theme switching and persistence.",
		status:      models.IssueStatusNotStarted,
		assignee:    -1,
		creator:     3,
		tags:        []int{0, 4},
	},
	{
		title:       "API documentation",
		description: "Create comprehensive API documentation with examples for all endpoints.",
		status:      models.IssueStatusNotStarted,
		assignee:    3,
		creator:     2,
		tags:        []int{5},
	},
	{
		title:       "Database performance optimization",
		description: "Review and optimize database queries for better performance, especially for the issues list with filtering.",
		status:      models.IssueStatusNotStarted,
		assignee:    -1,
		creator:     2,
		tags:        []int{1, 4},
	},
}

// Result counts what Run inserted.
type Result struct {
	Users  int
	Tags   int
	Issues int
}

// Run clears all data and inserts the sample set. progress, if non-nil, is
// called with a line per created record.
func Run(ctx context.Context, s store.Store, progress func(string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if err := s.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	userIDs := make([]string, len(Users))
	for i, su := range Users {
		hash, err := auth.HashPassword(su.Password)
		if err != nil {
			return nil, err
		}
		u := &models.User{Email: su.Email, Name: su.Name, PasswordHash: hash}
		if err := s.CreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("create user %s: %w", su.Email, err)
		}
		userIDs[i] = u.ID
		progress(fmt.Sprintf("Created user: %s (%s)", su.Name, su.Email))
	}

	tagIDs := make([]int64, len(Tags))
	for i, t := range Tags {
		tag := t
		if err := s.CreateTag(ctx, &tag); err != nil {
			return nil, fmt.Errorf("create tag %s: %w", t.Name, err)
		}
		tagIDs[i] = tag.ID
		progress("Created tag: " + tag.Name)
	}

	for _, si := range issues {
		issue := &models.Issue{
			Title:           si.title,
			Description:     si.description,
			Status:          si.status,
			Priority:        models.IssuePriorityMedium,
			CreatedByUserID: userIDs[si.creator],
		}
		if si.assignee >= 0 {
			issue.AssignedUserID = &userIDs[si.assignee]
		}
		ids := make([]int64, len(si.tags))
		for i, ti := range si.tags {
			ids[i] = tagIDs[ti]
		}
		if err := s.CreateIssue(ctx, issue, ids); err != nil {
			return nil, fmt.Errorf("create issue %q: %w", si.title, err)
		}
		progress("Created issue: " + si.title)
	}

	return &Result{Users: len(Users), Tags: len(Tags), Issues: len(issues)}, nil
}
