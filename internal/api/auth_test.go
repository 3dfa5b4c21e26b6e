package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
)

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.DefaultCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.DefaultCookieName)
	return nil
}

func TestSignUpSessionLifecycle(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.do(t, "POST", "/api/auth/sign-up/email", "", map[string]string{
		"email": "new@example.com", "password": "password123", "name": "New User",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var signed authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &signed))
	assert.NotEmpty(t, signed.Token)
	assert.Equal(t, "new@example.com", signed.User.Email)
	assert.NotContains(t, w.Body.String(), "password")

	cookie := sessionCookie(t, w)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, signed.Token, cookie.Value)

	// get-session with the cookie
	req := httptest.NewRequest("GET", "/api/auth/get-session", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, signed.User.ID, sess.User.ID)
	assert.Equal(t, signed.User.ID, sess.Session.UserID)

	// cookie also authenticates the REST API
	req = httptest.NewRequest("GET", "/api/users/me", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// sign-out invalidates the session
	w = env.do(t, "POST", "/api/auth/sign-out", signed.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -1, sessionCookie(t, w).MaxAge)

	w = env.do(t, "GET", "/api/auth/get-session", signed.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignUp_Errors(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.signUp(t, "taken@example.com")

	w := env.do(t, "POST", "/api/auth/sign-up/email", "", map[string]string{
		"email": "taken@example.com", "password": "password123", "name": "Again",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, CodeUserExists, decode[any](t, w).Code)

	w = env.do(t, "POST", "/api/auth/sign-up/email", "", map[string]string{
		"email": "short@example.com", "password": "123", "name": "Short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, decode[any](t, w).Code)
}

func TestSignUp_LongPassword(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.do(t, "POST", "/api/auth/sign-up/email", "", map[string]string{
		"email": "long@example.com", "password": strings.Repeat("a", 100), "name": "Long",
	})
	assert.NotEqual(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, decode[any](t, w).Code)

	w = env.do(t, "POST", "/api/auth/sign-up/email", "", map[string]string{
		"email": "long@example.com", "password": strings.Repeat("a", 72), "name": "Long",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignIn(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.signUp(t, "john@example.com")

	w := env.do(t, "POST", "/api/auth/sign-in/email", "", map[string]string{
		"email": "john@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Token)

	w = env.do(t, "POST", "/api/auth/sign-in/email", "", map[string]string{
		"email": "john@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeInvalidCredentials, decode[any](t, w).Code)
}

func TestUntrustedOrigin(t *testing.T) {
	env := setupTestServer(t, Options{})

	body := `{"email":"x@example.com","password":"password123","name":"X"}`
	req := httptest.NewRequest("POST", "/api/auth/sign-up/email", bytes.NewBufferString(body))
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeInvalidOrigin, decode[any](t, w).Code)

	req = httptest.NewRequest("POST", "/api/auth/sign-up/email", bytes.NewBufferString(body))
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := setupTestServer(t, Options{})
	u, token := env.signUp(t, "mcp@example.com")

	w := env.do(t, "POST", "/api/auth/api-key/create", token, map[string]string{"name": "mcp"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created createdAPIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Key, auth.APIKeyPrefix))

	// x-api-key authenticates REST calls
	req := httptest.NewRequest("POST", "/api/issues", bytes.NewBufferString(`{"title":"From MCP"}`))
	req.Header.Set(apiKeyHeader, created.Key)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, u.ID, decode[models.Issue](t, w).Data.CreatedByUserID)

	w = env.do(t, "GET", "/api/auth/api-key/list", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var keys []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	require.Len(t, keys, 1)
	assert.NotContains(t, w.Body.String(), created.Key)

	w = env.do(t, "POST", "/api/auth/api-key/delete", token, map[string]string{"keyId": created.ID})
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/api/issues", nil)
	req.Header.Set(apiKeyHeader, created.Key)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnknownAuthRoute(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.do(t, "GET", "/api/auth/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decode[any](t, w).Code)
}
