package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurst(t *testing.T) {
	l := New(3)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, remaining, _ := l.Allow("1.2.3.4")
		require.True(t, ok, "request %d", i)
		assert.Equal(t, 2-i, remaining)
	}
	ok, _, wait := l.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _, _ = l.Allow("5.6.7.8")
	assert.True(t, ok, "other clients have their own bucket")

	now = now.Add(time.Minute)
	ok, _, _ = l.Allow("1.2.3.4")
	assert.True(t, ok, "bucket refills over time")
}

func TestSweep(t *testing.T) {
	l := New(10)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	now = now.Add(5 * time.Minute)
	l.Allow("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", ClientIP(r), "forwarded header is ignored")
	assert.Equal(t, "203.0.113.7", ForwardedIP(r))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.1", ForwardedIP(r))
}

func TestMiddleware(t *testing.T) {
	l := New(2)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	limited := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	exempt := func(r *http.Request) bool { return r.URL.Path == "/health" }
	h := Middleware(l, nil, exempt, limited)(ok)

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do("/api/issues")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, do("/api/issues").Code)

	over := do("/api/issues")
	assert.Equal(t, http.StatusTooManyRequests, over.Code)
	assert.NotEmpty(t, over.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do("/health").Code)
}

func TestMiddleware_IgnoresRotatingForwardedFor(t *testing.T) {
	l := New(2)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	limited := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	h := Middleware(l, KeyFunc(false), nil, limited)(ok)

	var codes []int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/issues", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429, 429}, codes)
	assert.Equal(t, 1, l.Len())
}

func TestMiddleware_TrustProxy(t *testing.T) {
	l := New(1)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	limited := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	h := Middleware(l, KeyFunc(true), nil, limited)(ok)

	do := func(fwd string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/issues", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do("203.0.113.1"))
	assert.Equal(t, http.StatusOK, do("203.0.113.2"), "each forwarded client has its own bucket")
	assert.Equal(t, http.StatusTooManyRequests, do("203.0.113.1"))
}
