package auth

import (
	"context"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// SessionStore persists sessions keyed by token hash. Get returns an error
// wrapping store.ErrNotFound for unknown sessions.
type SessionStore interface {
	Create(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteUser(ctx context.Context, userID string) error
}

// SQLSessions keeps sessions in the main database.
type SQLSessions struct {
	store store.Store
}

// NewSQLSessions returns a SessionStore backed by s.
func NewSQLSessions(s store.Store) *SQLSessions {
	return &SQLSessions{store: s}
}

func (s *SQLSessions) Create(ctx context.Context, sess *models.Session) error {
	return s.store.CreateSession(ctx, sess)
}

func (s *SQLSessions) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	return s.store.GetSessionByTokenHash(ctx, tokenHash)
}

func (s *SQLSessions) Delete(ctx context.Context, tokenHash string) error {
	return s.store.DeleteSessionByTokenHash(ctx, tokenHash)
}

func (s *SQLSessions) DeleteUser(ctx context.Context, userID string) error {
	return s.store.DeleteUserSessions(ctx, userID)
}
