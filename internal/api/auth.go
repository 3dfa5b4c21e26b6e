package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
)

const apiKeyHeader = "x-api-key"

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type sessionResponse struct {
	Session *models.Session `json:"session"`
	User    *models.User    `json:"user"`
}

type createdAPIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) sessionInfo(r *http.Request) auth.SessionInfo {
	return auth.SessionInfo{UserAgent: r.UserAgent(), IPAddress: s.clientIP(r)}
}

// sessionToken returns the session token from the Authorization header or
// the session cookie.
func (s *Server) sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(s.auth.Config().CookieName); err == nil {
		return c.Value
	}
	return ""
}

// principal resolves the caller from an API key, bearer token or cookie.
func (s *Server) principal(r *http.Request) (*auth.Principal, error) {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return s.auth.AuthenticateAPIKey(r.Context(), key)
	}
	token := s.sessionToken(r)
	if strings.HasPrefix(token, auth.APIKeyPrefix) {
		return s.auth.AuthenticateAPIKey(r.Context(), token)
	}
	return s.auth.Authenticate(r.Context(), token)
}

// requireUser rejects unauthenticated requests and stores the principal in
// the request context.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.principal(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	if s.auth.OriginTrusted(r.Header.Get("Origin"), r.Host) {
		return true
	}
	writeError(w, http.StatusForbidden, CodeInvalidOrigin, "Invalid origin")
	return false
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	cfg := s.auth.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	cfg := s.auth.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	u, sess, token, err := s.auth.SignUp(r.Context(), auth.SignUpInput(req), s.sessionInfo(r))
	if errors.Is(err, auth.ErrUserExists) {
		writeError(w, http.StatusUnprocessableEntity, CodeUserExists, "User already exists")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	s.setSessionCookie(w, token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: u})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	u, sess, token, err := s.auth.SignIn(r.Context(), req.Email, req.Password, s.sessionInfo(r))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	s.setSessionCookie(w, token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: u})
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	if err := s.auth.SignOut(r.Context(), s.sessionToken(r)); err != nil {
		fail(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	p, err := s.auth.Authenticate(r.Context(), s.sessionToken(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: p.Session, User: p.User})
}

func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	u := auth.UserFrom(r.Context())
	k, raw, err := s.auth.CreateAPIKey(r.Context(), u.ID, req.Name)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdAPIKey{ID: k.ID, Name: k.Name, Key: raw, Prefix: k.Prefix, CreatedAt: k.CreatedAt})
}

func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.auth.ListAPIKeys(r.Context(), auth.UserFrom(r.Context()).ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	var req struct {
		KeyID string `json:"keyId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.KeyID == "" {
		fail(w, r, badRequest("keyId is required"))
		return
	}
	if err := s.auth.DeleteAPIKey(r.Context(), auth.UserFrom(r.Context()).ID, req.KeyID); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
