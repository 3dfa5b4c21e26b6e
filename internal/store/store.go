package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/joescharf/tracker/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("already exists")
	// ErrInvalidReference is returned when a referenced user or tag does not exist.
	ErrInvalidReference = errors.New("invalid reference")
)

// Pagination selects one page of a list. A zero Limit returns every row.
type Pagination struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip, saturating at math.MaxInt.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

// UserListFilter specifies filters for listing users.
type UserListFilter struct {
	Search string
	Pagination
}

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	Status          models.IssueStatus
	Priority        models.IssuePriority
	AssignedUserID  string
	CreatedByUserID string
	TagID           int64
	Search          string
	Pagination
}

// Store defines the persistence interface for the tracker.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, filter UserListFilter) ([]*models.User, int, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error

	// Tags
	CreateTag(ctx context.Context, tag *models.Tag) error
	GetTag(ctx context.Context, id int64) (*models.Tag, error)
	GetTagByName(ctx context.Context, name string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)
	UpdateTag(ctx context.Context, tag *models.Tag) error
	DeleteTag(ctx context.Context, id int64) error

	// Issues. A nil tagIDs slice on update leaves the tag set untouched;
	// a non-nil slice (even empty) replaces it.
	CreateIssue(ctx context.Context, issue *models.Issue, tagIDs []int64) error
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, int, error)
	UpdateIssue(ctx context.Context, issue *models.Issue, tagIDs []int64) error
	DeleteIssue(ctx context.Context, id int64) error
	SetIssueTags(ctx context.Context, issueID int64, tagIDs []int64) error

	// Sessions
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}
