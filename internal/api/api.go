package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/health"
	"github.com/joescharf/tracker/internal/llm"
	"github.com/joescharf/tracker/internal/ratelimit"
	"github.com/joescharf/tracker/internal/store"
)

// Enricher suggests improvements for an issue. *llm.Client implements it.
type Enricher interface {
	EnrichIssue(ctx context.Context, title, description string, tags []string) (*llm.Enrichment, error)
}

// Options configures optional server behavior.
type Options struct {
	CORSOrigins []string
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// RateLimiter is nil when rate limiting is disabled.
	RateLimiter *ratelimit.Limiter
	// Enricher is nil when no LLM is configured.
	Enricher Enricher
	Health   *health.Checker
	// Static serves every non-API path, typically the embedded SPA.
	Static http.Handler
}

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	auth   *auth.Service
	llm    Enricher
	health *health.Checker
	opts   Options
}

// NewServer creates a new API server.
func NewServer(s store.Store, authSvc *auth.Service, opts Options) *Server {
	hc := opts.Health
	if hc == nil {
		hc = health.NewChecker("dev")
		hc.Register("database", s.Ping)
	}
	return &Server{
		store:  s,
		auth:   authSvc,
		llm:    opts.Enricher,
		health: hc,
		opts:   opts,
	}
}

// Router returns the fully wrapped http.Handler.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthz)
	mux.HandleFunc("GET /health/live", s.liveness)
	mux.HandleFunc("GET /health/ready", s.readiness)
	mux.HandleFunc("GET /api/health", s.apiHealth)

	mux.HandleFunc("POST /api/auth/sign-up/email", s.signUp)
	mux.HandleFunc("POST /api/auth/sign-in/email", s.signIn)
	mux.HandleFunc("POST /api/auth/sign-out", s.signOut)
	mux.HandleFunc("GET /api/auth/get-session", s.getSession)
	mux.Handle("POST /api/auth/api-key/create", s.requireUser(s.createAPIKey))
	mux.Handle("GET /api/auth/api-key/list", s.requireUser(s.listAPIKeys))
	mux.Handle("POST /api/auth/api-key/delete", s.requireUser(s.deleteAPIKey))

	mux.Handle("GET /api/users", s.requireUser(s.listUsers))
	mux.Handle("GET /api/users/me", s.requireUser(s.getMe))
	mux.Handle("GET /api/users/{id}", s.requireUser(s.getUser))
	mux.Handle("PUT /api/users/{id}", s.requireUser(s.updateUser))
	mux.Handle("DELETE /api/users/{id}", s.requireUser(s.deleteUser))

	mux.Handle("GET /api/tags", s.requireUser(s.listTags))
	mux.Handle("POST /api/tags", s.requireUser(s.createTag))
	mux.Handle("GET /api/tags/{id}", s.requireUser(s.getTag))
	mux.Handle("PUT /api/tags/{id}", s.requireUser(s.updateTag))
	mux.Handle("DELETE /api/tags/{id}", s.requireUser(s.deleteTag))

	mux.Handle("GET /api/issues", s.requireUser(s.listIssues))
	mux.Handle("POST /api/issues", s.requireUser(s.createIssue))
	mux.Handle("GET /api/issues/{id}", s.requireUser(s.getIssue))
	mux.Handle("PUT /api/issues/{id}", s.requireUser(s.updateIssue))
	mux.Handle("DELETE /api/issues/{id}", s.requireUser(s.deleteIssue))
	mux.Handle("POST /api/issues/{id}/enrich", s.requireUser(s.enrichIssue))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Route "+r.Method+" "+r.URL.Path+" not found")
	})
	if s.opts.Static != nil {
		mux.Handle("/", s.opts.Static)
	}

	var h http.Handler = mux
	if s.opts.RateLimiter != nil {
		h = ratelimit.Middleware(s.opts.RateLimiter, s.clientIP, isHealthPath, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests, please try again later")
		})(h)
	}
	h = corsMiddleware(s.opts.CORSOrigins)(h)
	h = logMiddleware(s.clientIP)(h)
	return recoverMiddleware(h)
}

func (s *Server) clientIP(r *http.Request) string {
	return ratelimit.KeyFunc(s.opts.TrustProxy)(r)
}

func isHealthPath(r *http.Request) bool {
	return r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/health/") || r.URL.Path == "/api/health"
}

// corsMiddleware echoes allowed origins with credentials. An empty list
// allows none; "*" allows any.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, x-api-key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			slog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"remote", clientIP(r),
			)
		})
	}
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("panic serving request", "method", r.Method, "path", r.URL.Path, "panic", v)
				writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
