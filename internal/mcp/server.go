package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tracker/internal/client"
	"github.com/joescharf/tracker/internal/models"
)

// API is the subset of the REST client the tools call.
type API interface {
	CreateIssue(ctx context.Context, in client.CreateIssueInput) (*models.Issue, error)
	UpdateIssue(ctx context.Context, id int64, in client.UpdateIssueInput) (*models.Issue, error)
	ListIssues(ctx context.Context, params client.ListIssuesParams) (*client.IssueList, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)
}

// Server exposes the tracker REST API as MCP tools.
type Server struct {
	// api returns a client authenticated with the given key, or with the
	// configured default key when it is empty.
	api     func(apiKey string) API
	version string
}

// NewServer creates the MCP server wrapper around a REST client.
func NewServer(c *client.Client, version string) *Server {
	return &Server{
		api:     func(key string) API { return c.WithAPIKey(key) },
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tracker", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.createBugTool())
	srv.AddTool(s.createFeatureRequestTool())
	srv.AddTool(s.updateTicketStatusTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.listTagsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func apiKeyOption() mcp.ToolOption {
	return mcp.WithString("apiKey", mcp.Description("API key for authentication (defaults to the configured key)"))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func apiFailure(action string, err error) *mcp.CallToolResult {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %s (status %d, code %s)", action, apiErr.Message, apiErr.Status, apiErr.Code))
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

// intArg reads an integer argument sent as a JSON number or numeric string.
func intArg(args map[string]any, key string) (int64, bool) {
	return intValue(args[key])
}

func intValue(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func intSliceArg(args map[string]any, key string) ([]int64, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array of numbers", key)
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		n, ok := intValue(item)
		if !ok {
			return nil, fmt.Errorf("%s must be an array of numbers", key)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

// resolveTag finds a tag id by case-insensitive name.
func resolveTag(ctx context.Context, api API, name string) (int64, error) {
	tags, err := api.ListTags(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return 0, fmt.Errorf("tag %q does not exist", name)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// issues-create
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues-create",
		mcp.WithDescription("Create a new issue"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("description", mcp.Description("Issue description")),
		mcp.WithString("status", mcp.Description("Issue status"), mcp.Enum("not_started", "in_progress", "done")),
		mcp.WithString("priority", mcp.Description("Issue priority"), mcp.Enum("low", "medium", "high", "urgent")),
		mcp.WithString("assigned_user_id", mcp.Description("Assigned user ID")),
		mcp.WithArray("tag_ids", mcp.Description("Array of tag IDs"), mcp.Items(map[string]any{"type": "number"})),
		apiKeyOption(),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	tagIDs, err := intSliceArg(request.GetArguments(), "tag_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	issue, err := s.api(request.GetString("apiKey", "")).CreateIssue(ctx, client.CreateIssueInput{
		Title:          title,
		Description:    request.GetString("description", ""),
		Status:         request.GetString("status", ""),
		Priority:       request.GetString("priority", ""),
		AssignedUserID: request.GetString("assigned_user_id", ""),
		TagIDs:         tagIDs,
	})
	if err != nil {
		return apiFailure("create issue", err), nil
	}
	return jsonResult(issue)
}

// create-bug
func (s *Server) createBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("create-bug",
		mcp.WithDescription("Create a bug report: high priority, not started, tagged \"bug\""),
		mcp.WithString("title", mcp.Required(), mcp.Description("Bug title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What happened and how to reproduce it")),
		apiKeyOption(),
	)
	return tool, s.taggedIssueHandler("bug", models.IssuePriorityHigh)
}

// create-feature-request
func (s *Server) createFeatureRequestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("create-feature-request",
		mcp.WithDescription("Create a feature request: low priority, not started, tagged \"feature\""),
		mcp.WithString("title", mcp.Required(), mcp.Description("Feature title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the feature should do")),
		apiKeyOption(),
	)
	return tool, s.taggedIssueHandler("feature", models.IssuePriorityLow)
}

func (s *Server) taggedIssueHandler(tag string, priority models.IssuePriority) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := request.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: title"), nil
		}
		description, err := request.RequireString("description")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: description"), nil
		}

		api := s.api(request.GetString("apiKey", ""))
		tagID, err := resolveTag(ctx, api, tag)
		if err != nil {
			return apiFailure("resolve tag", err), nil
		}

		issue, err := api.CreateIssue(ctx, client.CreateIssueInput{
			Title:       title,
			Description: description,
			Status:      string(models.IssueStatusNotStarted),
			Priority:    string(priority),
			TagIDs:      []int64{tagID},
		})
		if err != nil {
			return apiFailure("create issue", err), nil
		}
		return jsonResult(issue)
	}
}

// update-ticket-status
func (s *Server) updateTicketStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("update-ticket-status",
		mcp.WithDescription("Update the status of an existing ticket"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Ticket ID")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status"), mcp.Enum("not_started", "in_progress", "done")),
		apiKeyOption(),
	)
	return tool, s.handleUpdateTicketStatus
}

func (s *Server) handleUpdateTicketStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := intArg(request.GetArguments(), "id")
	if !ok || id < 1 {
		return mcp.NewToolResultError("missing or invalid parameter: id"), nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	if !models.IssueStatus(status).Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q: use not_started, in_progress or done", status)), nil
	}

	issue, err := s.api(request.GetString("apiKey", "")).UpdateIssue(ctx, id, client.UpdateIssueInput{Status: &status})
	if err != nil {
		return apiFailure("update ticket", err), nil
	}
	return jsonResult(issue)
}

// issues-list
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues-list",
		mcp.WithDescription("List issues, newest first, with optional filters"),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("not_started", "in_progress", "done")),
		mcp.WithString("priority", mcp.Description("Filter by priority"), mcp.Enum("low", "medium", "high", "urgent")),
		mcp.WithString("search", mcp.Description("Search in title and description")),
		mcp.WithNumber("page", mcp.Description("Page number (default 1)")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
		apiKeyOption(),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	params := client.ListIssuesParams{
		Status:   request.GetString("status", ""),
		Priority: request.GetString("priority", ""),
		Search:   request.GetString("search", ""),
	}
	if n, ok := intArg(args, "page"); ok {
		params.Page = int(n)
	}
	if n, ok := intArg(args, "limit"); ok {
		params.Limit = int(n)
	}

	list, err := s.api(request.GetString("apiKey", "")).ListIssues(ctx, params)
	if err != nil {
		return apiFailure("list issues", err), nil
	}
	issues := list.Issues
	if issues == nil {
		issues = []*models.Issue{}
	}
	return jsonResult(map[string]any{"issues": issues, "pagination": list.Pagination})
}

// tags-list
func (s *Server) listTagsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tags-list",
		mcp.WithDescription("List all tags with their ids and colors"),
		apiKeyOption(),
	)
	return tool, s.handleListTags
}

func (s *Server) handleListTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.api(request.GetString("apiKey", "")).ListTags(ctx)
	if err != nil {
		return apiFailure("list tags", err), nil
	}
	if tags == nil {
		tags = []*models.Tag{}
	}
	return jsonResult(tags)
}
