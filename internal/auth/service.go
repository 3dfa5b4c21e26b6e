package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

const (
	DefaultCookieName = "tracker_session"
	DefaultSessionTTL = 7 * 24 * time.Hour

	sessionTokenLength = 32
	apiKeyTokenLength  = 32
	apiKeyPrefixLength = len(APIKeyPrefix) + 6
)

// Config controls session lifetime and cookie attributes.
type Config struct {
	SessionTTL     time.Duration
	CookieName     string
	CookieSecure   bool
	TrustedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	return c
}

// SignUpInput is the payload for email sign-up.
type SignUpInput struct {
	Email    string
	Password string
	Name     string
}

// SessionInfo describes the client opening a session.
type SessionInfo struct {
	UserAgent string
	IPAddress string
}

// Service implements email/password accounts, sessions and API keys.
type Service struct {
	store    store.Store
	sessions SessionStore
	cfg      Config
	now      func() time.Time
}

// NewService creates a Service. A nil sessions store keeps sessions in s.
func NewService(s store.Store, sessions SessionStore, cfg Config) *Service {
	if sessions == nil {
		sessions = NewSQLSessions(s)
	}
	return &Service{store: s, sessions: sessions, cfg: cfg.withDefaults(), now: time.Now}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// SignUp registers a user and opens a session for them. It returns the raw
// session token, which is only ever seen by the client.
func (s *Service) SignUp(ctx context.Context, in SignUpInput, info SessionInfo) (*models.User, *models.Session, string, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, nil, "", err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, nil, "", err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, "", &ValidationError{Field: "name", Message: "name is required"}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, nil, "", err
	}
	u := &models.User{Email: email, Name: name, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, "", ErrUserExists
		}
		return nil, nil, "", err
	}

	sess, token, err := s.openSession(ctx, u.ID, info)
	if err != nil {
		return nil, nil, "", err
	}
	slog.Info("user signed up", "user_id", u.ID)
	return u, sess, token, nil
}

// SignIn checks credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string, info SessionInfo) (*models.User, *models.Session, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, "", ErrInvalidCredentials
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, "", err
	}
	if u.PasswordHash == "" || !CheckPasswordHash(password, u.PasswordHash) {
		return nil, nil, "", ErrInvalidCredentials
	}

	sess, token, err := s.openSession(ctx, u.ID, info)
	if err != nil {
		return nil, nil, "", err
	}
	return u, sess, token, nil
}

func (s *Service) openSession(ctx context.Context, userID string, info SessionInfo) (*models.Session, string, error) {
	token, err := GenerateToken(sessionTokenLength)
	if err != nil {
		return nil, "", err
	}
	sess := &models.Session{
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: s.now().UTC().Add(s.cfg.SessionTTL),
		UserAgent: info.UserAgent,
		IPAddress: info.IPAddress,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("open session: %w", err)
	}
	return sess, token, nil
}

// SignOut ends the session identified by token. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, HashToken(token))
}

// Authenticate resolves a session token to its principal. Expired sessions
// are removed and reported as ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	hash := HashToken(token)
	sess, err := s.sessions.Get(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, hash); err != nil {
			slog.Warn("failed to delete expired session", "error", err)
		}
		return nil, ErrUnauthenticated
	}

	u, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return &Principal{User: u, Session: sess}, nil
}

// RevokeUserSessions ends every session belonging to userID.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) error {
	return s.sessions.DeleteUser(ctx, userID)
}

// AuthenticateAPIKey resolves a raw API key to its principal and records
// its use.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (*Principal, error) {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return nil, ErrUnauthenticated
	}
	k, err := s.store.GetAPIKeyByHash(ctx, HashToken(key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, k.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchAPIKey(ctx, k.ID, s.now().UTC()); err != nil {
		slog.Warn("failed to record api key use", "key_id", k.ID, "error", err)
	}
	return &Principal{User: u, APIKey: k}, nil
}

// CreateAPIKey issues a new key for userID. The raw key is returned once
// and never stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string) (*models.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	token, err := GenerateToken(apiKeyTokenLength)
	if err != nil {
		return nil, "", err
	}
	raw := APIKeyPrefix + token
	k := &models.APIKey{
		UserID:  userID,
		Name:    name,
		Prefix:  raw[:apiKeyPrefixLength],
		KeyHash: HashToken(raw),
	}
	if err := s.store.CreateAPIKey(ctx, k); err != nil {
		return nil, "", err
	}
	slog.Info("api key created", "user_id", userID, "key_id", k.ID)
	return k, raw, nil
}

// ListAPIKeys returns the keys owned by userID.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return s.store.ListAPIKeys(ctx, userID)
}

// DeleteAPIKey revokes a key owned by userID.
func (s *Service) DeleteAPIKey(ctx context.Context, userID, keyID string) error {
	return s.store.DeleteAPIKey(ctx, userID, keyID)
}

// OriginTrusted reports whether a request Origin may perform state-changing
// auth calls. An empty origin (non-browser client) is always allowed.
func (s *Service) OriginTrusted(origin, requestHost string) bool {
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, o := range s.cfg.TrustedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	if requestHost != "" {
		for _, scheme := range []string{"http://", "https://"} {
			if strings.EqualFold(origin, scheme+requestHost) {
				return true
			}
		}
	}
	return false
}
