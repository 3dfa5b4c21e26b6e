package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/client"
	"github.com/joescharf/tracker/internal/models"
)

// ---------------------------------------------------------------------------
// Mock API
// ---------------------------------------------------------------------------

type mockAPI struct {
	tags   []*models.Tag
	issues []*models.Issue

	// Track calls for verification.
	keys       []string
	created    []client.CreateIssueInput
	updatedID  int64
	updated    client.UpdateIssueInput
	listParams client.ListIssuesParams

	// Optional error injection.
	createErr error
	updateErr error
	tagsErr   error
}

func (m *mockAPI) CreateIssue(_ context.Context, in client.CreateIssueInput) (*models.Issue, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, in)
	issue := &models.Issue{
		ID:          int64(len(m.created)),
		Title:       in.Title,
		Description: in.Description,
		Status:      models.IssueStatus(in.Status),
		Priority:    models.IssuePriority(in.Priority),
	}
	return issue, nil
}

func (m *mockAPI) UpdateIssue(_ context.Context, id int64, in client.UpdateIssueInput) (*models.Issue, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.updatedID = id
	m.updated = in
	return &models.Issue{ID: id, Status: models.IssueStatus(*in.Status)}, nil
}

func (m *mockAPI) ListIssues(_ context.Context, params client.ListIssuesParams) (*client.IssueList, error) {
	m.listParams = params
	return &client.IssueList{Issues: m.issues, Pagination: client.Pagination{Page: 1, Limit: 20, Total: len(m.issues), TotalPages: 1}}, nil
}

func (m *mockAPI) ListTags(_ context.Context) ([]*models.Tag, error) {
	if m.tagsErr != nil {
		return nil, m.tagsErr
	}
	return m.tags, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockAPI) {
	t.Helper()
	m := &mockAPI{tags: []*models.Tag{
		{ID: 1, Name: "frontend"},
		{ID: 3, Name: "bug"},
		{ID: 4, Name: "Feature"},
	}}
	srv := &Server{
		api: func(key string) API {
			m.keys = append(m.keys, key)
			return m
		},
		version: "test",
	}
	return srv, m
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMCPServer(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestNewServer_UsesClient(t *testing.T) {
	srv := NewServer(client.New("http://localhost:3000/api", "trk_default"), "v1")
	api := srv.api("trk_other")
	c, ok := api.(*client.Client)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:3000/api", c.BaseURL())
}

func TestHandleCreateIssue(t *testing.T) {
	srv, m := newTestServer(t)

	result, err := srv.handleCreateIssue(context.Background(), callToolReq("issues-create", map[string]any{
		"title":            "Login broken",
		"description":      "500 on submit",
		"priority":         "urgent",
		"assigned_user_id": "user-1",
		"tag_ids":          []any{float64(1), float64(3)},
		"apiKey":           "trk_call",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	require.Len(t, m.created, 1)
	assert.Equal(t, client.CreateIssueInput{
		Title:          "Login broken",
		Description:    "500 on submit",
		Priority:       "urgent",
		AssignedUserID: "user-1",
		TagIDs:         []int64{1, 3},
	}, m.created[0])
	assert.Equal(t, []string{"trk_call"}, m.keys)

	var out models.Issue
	resultJSON(t, result, &out)
	assert.Equal(t, "Login broken", out.Title)
}

func TestHandleCreateIssue_Errors(t *testing.T) {
	srv, m := newTestServer(t)

	result, err := srv.handleCreateIssue(context.Background(), callToolReq("issues-create", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "title")

	result, _ = srv.handleCreateIssue(context.Background(), callToolReq("issues-create", map[string]any{
		"title": "x", "tag_ids": "1,2",
	}))
	assert.True(t, result.IsError)

	m.createErr = &client.APIError{Status: 401, Code: "UNAUTHORIZED", Message: "Authentication required"}
	result, _ = srv.handleCreateIssue(context.Background(), callToolReq("issues-create", map[string]any{"title": "x"}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "UNAUTHORIZED")
}

func TestCreateBug(t *testing.T) {
	srv, m := newTestServer(t)
	_, handler := srv.createBugTool()

	result, err := handler(context.Background(), callToolReq("create-bug", map[string]any{
		"title":       "Crash on save",
		"description": "Saving twice crashes the app",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	require.Len(t, m.created, 1)
	got := m.created[0]
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, "not_started", got.Status)
	assert.Equal(t, []int64{3}, got.TagIDs)
	assert.Equal(t, []string{""}, m.keys, "missing apiKey falls back to the default")
}

func TestCreateFeatureRequest(t *testing.T) {
	srv, m := newTestServer(t)
	_, handler := srv.createFeatureRequestTool()

	result, err := handler(context.Background(), callToolReq("create-feature-request", map[string]any{
		"title":       "Dark mode",
		"description": "Add a dark theme",
		"apiKey":      "trk_x",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	require.Len(t, m.created, 1)
	assert.Equal(t, "low", m.created[0].Priority)
	assert.Equal(t, []int64{4}, m.created[0].TagIDs, "tag names match case-insensitively")
}

func TestTaggedIssue_Errors(t *testing.T) {
	srv, m := newTestServer(t)
	_, handler := srv.createBugTool()

	result, _ := handler(context.Background(), callToolReq("create-bug", map[string]any{"title": "x"}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "description")

	m.tags = nil
	result, _ = handler(context.Background(), callToolReq("create-bug", map[string]any{"title": "x", "description": "y"}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `tag "bug" does not exist`)
	assert.Empty(t, m.created)

	m.tagsErr = errors.New("connection refused")
	result, _ = handler(context.Background(), callToolReq("create-bug", map[string]any{"title": "x", "description": "y"}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "connection refused")
}

func TestUpdateTicketStatus(t *testing.T) {
	srv, m := newTestServer(t)

	result, err := srv.handleUpdateTicketStatus(context.Background(), callToolReq("update-ticket-status", map[string]any{
		"id": float64(12), "status": "done",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, int64(12), m.updatedID)
	require.NotNil(t, m.updated.Status)
	assert.Equal(t, "done", *m.updated.Status)
	assert.Nil(t, m.updated.Title)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing id", map[string]any{"status": "done"}},
		{"fractional id", map[string]any{"id": 1.5, "status": "done"}},
		{"missing status", map[string]any{"id": float64(1)}},
		{"invalid status", map[string]any{"id": float64(1), "status": "closed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleUpdateTicketStatus(context.Background(), callToolReq("update-ticket-status", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}

	m.updateErr = &client.APIError{Status: 404, Code: "NOT_FOUND", Message: "issue 99: not found"}
	result, _ = srv.handleUpdateTicketStatus(context.Background(), callToolReq("update-ticket-status", map[string]any{
		"id": "99", "status": "done",
	}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "NOT_FOUND")
}

func TestListIssues(t *testing.T) {
	srv, m := newTestServer(t)
	m.issues = []*models.Issue{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}}

	result, err := srv.handleListIssues(context.Background(), callToolReq("issues-list", map[string]any{
		"status": "in_progress", "search": "login", "page": float64(2), "limit": float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, client.ListIssuesParams{Status: "in_progress", Search: "login", Page: 2, Limit: 5}, m.listParams)

	var out struct {
		Issues     []models.Issue    `json:"issues"`
		Pagination client.Pagination `json:"pagination"`
	}
	resultJSON(t, result, &out)
	assert.Len(t, out.Issues, 2)
	assert.Equal(t, 2, out.Pagination.Total)
}

func TestListTags(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleListTags(context.Background(), callToolReq("tags-list", nil))
	require.NoError(t, err)
	var tags []models.Tag
	resultJSON(t, result, &tags)
	assert.Len(t, tags, 3)
}
