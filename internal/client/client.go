// Package client is a typed HTTP client for the tracker REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/tracker/internal/models"
)

// DefaultBaseURL points at a locally running server.
const DefaultBaseURL = "http://localhost:3000/api"

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Client calls the REST API, authenticating with an API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the API rooted at baseURL (for example
// http://localhost:3000/api).
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAPIKey returns a copy of c using key. An empty key returns c.
func (c *Client) WithAPIKey(key string) *Client {
	if key == "" {
		return c
	}
	cp := *c
	cp.apiKey = key
	return &cp
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateIssueInput is the body of POST /issues.
type CreateIssueInput struct {
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status,omitempty"`
	Priority       string  `json:"priority,omitempty"`
	AssignedUserID string  `json:"assigned_user_id,omitempty"`
	TagIDs         []int64 `json:"tag_ids,omitempty"`
}

// UpdateIssueInput is the body of PUT /issues/{id}. Nil fields are left
// unchanged.
type UpdateIssueInput struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	TagIDs      *[]int64 `json:"tag_ids,omitempty"`
}

// ListIssuesParams filters GET /issues.
type ListIssuesParams struct {
	Status   string
	Priority string
	Search   string
	TagID    int64
	Page     int
	Limit    int
}

func (p ListIssuesParams) query() url.Values {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.Priority != "" {
		q.Set("priority", p.Priority)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.TagID > 0 {
		q.Set("tag_id", strconv.FormatInt(p.TagID, 10))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// Pagination mirrors the pagination block of list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// IssueList is one page of issues.
type IssueList struct {
	Issues     []*models.Issue
	Pagination Pagination
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
}

func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (*models.Issue, error) {
	var issue models.Issue
	if _, err := c.do(ctx, http.MethodPost, "/issues", nil, in, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) UpdateIssue(ctx context.Context, id int64, in UpdateIssueInput) (*models.Issue, error) {
	var issue models.Issue
	if _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/issues/%d", id), nil, in, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	var issue models.Issue
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/issues/%d", id), nil, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) ListIssues(ctx context.Context, params ListIssuesParams) (*IssueList, error) {
	list := &IssueList{}
	env, err := c.do(ctx, http.MethodGet, "/issues", params.query(), nil, &list.Issues)
	if err != nil {
		return nil, err
	}
	if env.Pagination != nil {
		list.Pagination = *env.Pagination
	}
	return list, nil
}

func (c *Client) ListTags(ctx context.Context) ([]*models.Tag, error) {
	var tags []*models.Tag
	if _, err := c.do(ctx, http.MethodGet, "/tags", nil, nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// do sends a request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (*envelope, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
		if decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode response data: %w", err)
		}
	}
	return &env, nil
}
