package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

type testEnv struct {
	srv    *Server
	store  *store.SQLiteStore
	auth   *auth.Service
	router http.Handler
}

func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	authSvc := auth.NewService(s, nil, auth.Config{TrustedOrigins: []string{"http://localhost:5173"}})
	srv := NewServer(s, authSvc, opts)
	return &testEnv{srv: srv, store: s, auth: authSvc, router: srv.Router()}
}

// signUp registers a user and returns it with its session token.
func (e *testEnv) signUp(t *testing.T, email string) (*models.User, string) {
	t.Helper()
	u, _, token, err := e.auth.SignUp(context.Background(), auth.SignUpInput{Email: email, Password: "password123", Name: email}, auth.SessionInfo{})
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	Success    bool           `json:"success"`
	Data       T              `json:"data"`
	Error      string         `json:"error"`
	Code       string         `json:"code"`
	Pagination PaginationInfo `json:"pagination"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}
