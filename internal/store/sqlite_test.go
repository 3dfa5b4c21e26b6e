package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *SQLiteStore, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: email}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func createTag(t *testing.T, s *SQLiteStore, name string) *models.Tag {
	t.Helper()
	tag := &models.Tag{Name: name}
	require.NoError(t, s.CreateTag(context.Background(), tag))
	return tag
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

// --- Users ---

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &models.User{Email: "  Jane@Example.com ", Name: "Jane", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "jane@example.com", u.Email)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)
	assert.Equal(t, "hash", got.PasswordHash)

	byEmail, err := s.GetUserByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	got.Name = "Jane Smith"
	require.NoError(t, s.UpdateUser(ctx, got))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", got.Name)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	createUser(t, s, "dup@example.com")

	err := s.CreateUser(context.Background(), &models.User{Email: "DUP@example.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListUsers_SearchAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, e := range []string{"a@example.com", "b@example.com", "c@other.org"} {
		createUser(t, s, e)
	}

	users, total, err := s.ListUsers(ctx, UserListFilter{Pagination: Pagination{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, users, 2)

	users, total, err = s.ListUsers(ctx, UserListFilter{Pagination: Pagination{Page: 2, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, users, 1)

	users, total, err = s.ListUsers(ctx, UserListFilter{Search: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, users, 2)
}

// --- Tags ---

func TestTagCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag := &models.Tag{Name: "bug", Color: "#ef4444"}
	require.NoError(t, s.CreateTag(ctx, tag))
	assert.NotZero(t, tag.ID)

	plain := createTag(t, s, "docs")
	assert.Equal(t, models.DefaultTagColor, plain.Color)

	got, err := s.GetTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "bug", got.Name)
	assert.Equal(t, "#ef4444", got.Color)

	byName, err := s.GetTagByName(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, plain.ID, byName.ID)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "bug", tags[0].Name)

	got.Color = "#000000"
	require.NoError(t, s.UpdateTag(ctx, got))
	got, err = s.GetTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "#000000", got.Color)

	require.NoError(t, s.DeleteTag(ctx, tag.ID))
	_, err = s.GetTag(ctx, tag.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTag_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	createTag(t, s, "bug")
	err := s.CreateTag(context.Background(), &models.Tag{Name: "bug"})
	assert.ErrorIs(t, err, ErrConflict)
}

// --- Issues ---

func TestIssueCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "author@example.com")
	assignee := createUser(t, s, "dev@example.com")
	bug := createTag(t, s, "bug")
	frontend := createTag(t, s, "frontend")

	issue := &models.Issue{
		Title:           "Fix filter",
		Description:     "Status filter shows everything",
		AssignedUserID:  &assignee.ID,
		CreatedByUserID: author.ID,
	}
	require.NoError(t, s.CreateIssue(ctx, issue, []int64{bug.ID, frontend.ID, bug.ID}))
	assert.NotZero(t, issue.ID)
	assert.Equal(t, models.IssueStatusNotStarted, issue.Status)
	assert.Equal(t, models.IssuePriorityMedium, issue.Priority)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix filter", got.Title)
	require.NotNil(t, got.CreatedByUser)
	assert.Equal(t, author.Email, got.CreatedByUser.Email)
	require.NotNil(t, got.AssignedUser)
	assert.Equal(t, assignee.ID, got.AssignedUser.ID)
	require.Len(t, got.Tags, 2)
	assert.Equal(t, "bug", got.Tags[0].Name)
	assert.Equal(t, "frontend", got.Tags[1].Name)

	// Update without touching tags
	got.Status = models.IssueStatusInProgress
	got.AssignedUserID = nil
	require.NoError(t, s.UpdateIssue(ctx, got, nil))
	got, err = s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusInProgress, got.Status)
	assert.Nil(t, got.AssignedUser)
	assert.Len(t, got.Tags, 2)

	// Replace tags with an empty set
	require.NoError(t, s.UpdateIssue(ctx, got, []int64{}))
	got, err = s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
	assert.NotNil(t, got.Tags)

	require.NoError(t, s.DeleteIssue(ctx, issue.ID))
	_, err = s.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteIssue(ctx, issue.ID), ErrNotFound)
}

func TestCreateIssue_InvalidReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "author@example.com")

	missing := "no-such-user"
	err := s.CreateIssue(ctx, &models.Issue{Title: "x", CreatedByUserID: author.ID, AssignedUserID: &missing}, nil)
	assert.ErrorIs(t, err, ErrInvalidReference)

	err = s.CreateIssue(ctx, &models.Issue{Title: "x", CreatedByUserID: author.ID}, []int64{999})
	assert.ErrorIs(t, err, ErrInvalidReference)

	err = s.CreateIssue(ctx, &models.Issue{Title: "x", CreatedByUserID: "ghost"}, nil)
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, total, err := s.ListIssues(ctx, IssueListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "failed creates must not leave rows behind")
}

func TestSetIssueTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "author@example.com")
	bug := createTag(t, s, "bug")
	docs := createTag(t, s, "docs")

	issue := &models.Issue{Title: "Tagged", CreatedByUserID: author.ID}
	require.NoError(t, s.CreateIssue(ctx, issue, []int64{bug.ID}))

	require.NoError(t, s.SetIssueTags(ctx, issue.ID, []int64{docs.ID}))
	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "docs", got.Tags[0].Name)

	err = s.SetIssueTags(ctx, issue.ID, []int64{999})
	assert.ErrorIs(t, err, ErrInvalidReference)
	got, err = s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, got.Tags, 1, "failed replace keeps the old set")

	assert.ErrorIs(t, s.SetIssueTags(ctx, 4242, nil), ErrNotFound)
}

func TestUpdateIssue_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateIssue(context.Background(), &models.Issue{ID: 42, Title: "x", Status: models.IssueStatusDone, Priority: models.IssuePriorityLow}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIssues_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice@example.com")
	bob := createUser(t, s, "bob@example.com")
	bug := createTag(t, s, "bug")

	seed := []struct {
		title    string
		status   models.IssueStatus
		priority models.IssuePriority
		assignee *string
		tags     []int64
	}{
		{"Crash on login", models.IssueStatusNotStarted, models.IssuePriorityHigh, &bob.ID, []int64{bug.ID}},
		{"Dark mode", models.IssueStatusNotStarted, models.IssuePriorityLow, nil, nil},
		{"API docs", models.IssueStatusDone, models.IssuePriorityMedium, &bob.ID, nil},
	}
	for _, sd := range seed {
		issue := &models.Issue{Title: sd.title, Status: sd.status, Priority: sd.priority, AssignedUserID: sd.assignee, CreatedByUserID: alice.ID}
		require.NoError(t, s.CreateIssue(ctx, issue, sd.tags))
	}

	tests := []struct {
		name   string
		filter IssueListFilter
		want   int
	}{
		{"all", IssueListFilter{}, 3},
		{"status", IssueListFilter{Status: models.IssueStatusNotStarted}, 2},
		{"priority", IssueListFilter{Priority: models.IssuePriorityHigh}, 1},
		{"assignee", IssueListFilter{AssignedUserID: bob.ID}, 2},
		{"creator", IssueListFilter{CreatedByUserID: bob.ID}, 0},
		{"tag", IssueListFilter{TagID: bug.ID}, 1},
		{"search title", IssueListFilter{Search: "dark"}, 1},
		{"combined", IssueListFilter{Status: models.IssueStatusNotStarted, AssignedUserID: bob.ID}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, total, err := s.ListIssues(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
			assert.Len(t, issues, tt.want)
		})
	}
}

func TestListIssues_PaginationNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@example.com")
	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, s.CreateIssue(ctx, &models.Issue{Title: title, CreatedByUserID: u.ID}, nil))
	}

	page1, total, err := s.ListIssues(ctx, IssueListFilter{Pagination: Pagination{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page1, 2)
	assert.Equal(t, "third", page1[0].Title)

	page2, _, err := s.ListIssues(ctx, IssueListFilter{Pagination: Pagination{Page: 2, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "first", page2[0].Title)

	far, total, err := s.ListIssues(ctx, IssueListFilter{Pagination: Pagination{Page: math.MaxInt, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, far, "a page past the end is empty, not the first page")
}

func TestPaginationOffset(t *testing.T) {
	assert.Equal(t, 0, Pagination{Page: 1, Limit: 20}.Offset())
	assert.Equal(t, 40, Pagination{Page: 3, Limit: 20}.Offset())
	assert.Equal(t, 0, Pagination{Page: 5}.Offset())
	assert.Equal(t, math.MaxInt, Pagination{Page: math.MaxInt, Limit: 100}.Offset())
	assert.Equal(t, math.MaxInt, Pagination{Page: math.MaxInt/2 + 2, Limit: 2}.Offset())
}

func TestDeleteTag_CascadesIssueTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@example.com")
	tag := createTag(t, s, "temp")
	issue := &models.Issue{Title: "tagged", CreatedByUserID: u.ID}
	require.NoError(t, s.CreateIssue(ctx, issue, []int64{tag.ID}))

	require.NoError(t, s.DeleteTag(ctx, tag.ID))

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
}

func TestDeleteUser_UnassignsIssues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "author@example.com")
	dev := createUser(t, s, "dev@example.com")
	issue := &models.Issue{Title: "assigned", CreatedByUserID: author.ID, AssignedUserID: &dev.ID}
	require.NoError(t, s.CreateIssue(ctx, issue, nil))

	require.NoError(t, s.DeleteUser(ctx, dev.ID))

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedUserID)
}

// --- Sessions & API keys ---

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@example.com")

	live := &models.Session{TokenHash: "live", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
	expired := &models.Session{TokenHash: "old", UserID: u.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, expired))
	assert.NotEmpty(t, live.ID)

	got, err := s.GetSessionByTokenHash(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.False(t, got.Expired(time.Now()))

	n, err := s.DeleteExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteSessionByTokenHash(ctx, "live"))
	_, err = s.GetSessionByTokenHash(ctx, "live")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@example.com")

	key := &models.APIKey{UserID: u.ID, Name: "mcp", Prefix: "trk_abcd", KeyHash: "h1"}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.NotEmpty(t, key.ID)

	got, err := s.GetAPIKeyByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "mcp", got.Name)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, s.TouchAPIKey(ctx, key.ID, time.Now()))
	got, err = s.GetAPIKeyByHash(ctx, "h1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	keys, err := s.ListAPIKeys(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	assert.ErrorIs(t, s.DeleteAPIKey(ctx, "someone-else", key.ID), ErrNotFound)
	require.NoError(t, s.DeleteAPIKey(ctx, u.ID, key.ID))
	_, err = s.GetAPIKeyByHash(ctx, "h1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "u@example.com")
	createTag(t, s, "bug")
	require.NoError(t, s.CreateIssue(ctx, &models.Issue{Title: "x", CreatedByUserID: u.ID}, nil))

	require.NoError(t, s.Reset(ctx))

	users, total, err := s.ListUsers(ctx, UserListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, users)

	tag := createTag(t, s, "again")
	assert.Equal(t, int64(1), tag.ID, "sequences restart after reset")
}

func TestNewULID_UniqueAndOrdered(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := newULID()
		require.Len(t, id, 26)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.Greater(t, id, prev)
		prev = id
	}
}
