package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/store"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidReference = "INVALID_REFERENCE"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"

	CodeUserExists         = "USER_ALREADY_EXISTS"
	CodeInvalidCredentials = "INVALID_EMAIL_OR_PASSWORD"
	CodeInvalidOrigin      = "INVALID_ORIGIN"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxPage          = 1_000_000
	maxBodyBytes     = 1 << 20
)

// httpError is an error that already knows its response status and code.
type httpError struct {
	status  int
	code    string
	message string
}

func (e *httpError) Error() string { return e.message }

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, code: CodeValidation, message: msg}
}

func forbidden(msg string) error {
	return &httpError{status: http.StatusForbidden, code: CodeForbidden, message: msg}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type dataBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type listBody struct {
	Success    bool           `json:"success"`
	Data       any            `json:"data"`
	Pagination PaginationInfo `json:"pagination"`
}

// PaginationInfo describes one page of a list response.
type PaginationInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPaginationInfo(p store.Pagination, total int) PaginationInfo {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return PaginationInfo{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataBody{Success: true, Data: v})
}

func writeList(w http.ResponseWriter, v any, p store.Pagination, total int) {
	writeJSON(w, http.StatusOK, listBody{Success: true, Data: v, Pagination: newPaginationInfo(p, total)})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg, Code: code})
}

// fail maps err to a status and code and writes it. Unexpected errors are
// logged and reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var he *httpError
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &he):
		writeError(w, he.status, he.code, he.message)
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, CodeValidation, ve.Message)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, store.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, CodeInvalidReference, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication required")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &httpError{status: http.StatusBadRequest, code: CodeInvalidJSON, message: "request body is required"}
		}
		return &httpError{status: http.StatusBadRequest, code: CodeInvalidJSON, message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// parsePagination reads page and limit query parameters.
func parsePagination(r *http.Request) (store.Pagination, error) {
	p := store.Pagination{Page: 1, Limit: defaultPageLimit}
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPage {
			return p, badRequest(fmt.Sprintf("page must be between 1 and %d", maxPage))
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			return p, badRequest(fmt.Sprintf("limit must be between 1 and %d", maxPageLimit))
		}
		p.Limit = n
	}
	return p, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest(name + " must be a positive integer")
	}
	return id, nil
}
