package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

const (
	maxTitleLength       = 255
	maxDescriptionLength = 10000
)

// optionalString distinguishes an absent JSON field from an explicit null.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

type createIssueRequest struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	Priority       string  `json:"priority"`
	AssignedUserID *string `json:"assigned_user_id"`
	TagIDs         []int64 `json:"tag_ids"`
}

type updateIssueRequest struct {
	Title          *string        `json:"title"`
	Description    *string        `json:"description"`
	Status         *string        `json:"status"`
	Priority       *string        `json:"priority"`
	AssignedUserID optionalString `json:"assigned_user_id"`
	TagIDs         *[]int64       `json:"tag_ids"`
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", badRequest("title is required")
	}
	if len(title) > maxTitleLength {
		return "", badRequest(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	return title, nil
}

func validateDescription(desc string) error {
	if len(desc) > maxDescriptionLength {
		return badRequest(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	return nil
}

func parseStatus(v string) (models.IssueStatus, error) {
	s := models.IssueStatus(v)
	if !s.Valid() {
		return "", badRequest("status must be one of not_started, in_progress, done")
	}
	return s, nil
}

func parsePriority(v string) (models.IssuePriority, error) {
	p := models.IssuePriority(v)
	if !p.Valid() {
		return "", badRequest("priority must be one of low, medium, high, urgent")
	}
	return p, nil
}

// assignee treats an empty string the same as null.
func assignee(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	id := strings.TrimSpace(*v)
	return &id
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := store.IssueListFilter{
		AssignedUserID:  q.Get("assigned_user_id"),
		CreatedByUserID: q.Get("created_by_user_id"),
		Search:          strings.TrimSpace(q.Get("search")),
		Pagination:      p,
	}
	if v := q.Get("status"); v != "" {
		if filter.Status, err = parseStatus(v); err != nil {
			fail(w, r, err)
			return
		}
	}
	if v := q.Get("priority"); v != "" {
		if filter.Priority, err = parsePriority(v); err != nil {
			fail(w, r, err)
			return
		}
	}
	if v := q.Get("tag_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 1 {
			fail(w, r, badRequest("tag_id must be a positive integer"))
			return
		}
		filter.TagID = id
	}

	issues, total, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeList(w, issues, p, total)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, issue)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	issue := &models.Issue{
		Description:     req.Description,
		Status:          models.IssueStatusNotStarted,
		Priority:        models.IssuePriorityMedium,
		AssignedUserID:  assignee(req.AssignedUserID),
		CreatedByUserID: auth.UserFrom(r.Context()).ID,
	}
	var err error
	if issue.Title, err = validateTitle(req.Title); err != nil {
		fail(w, r, err)
		return
	}
	if err := validateDescription(req.Description); err != nil {
		fail(w, r, err)
		return
	}
	if req.Status != "" {
		if issue.Status, err = parseStatus(req.Status); err != nil {
			fail(w, r, err)
			return
		}
	}
	if req.Priority != "" {
		if issue.Priority, err = parsePriority(req.Priority); err != nil {
			fail(w, r, err)
			return
		}
	}

	if err := s.store.CreateIssue(r.Context(), issue, req.TagIDs); err != nil {
		fail(w, r, err)
		return
	}
	created, err := s.store.GetIssue(r.Context(), issue.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("issue created", "id", created.ID, "user_id", created.CreatedByUserID)
	writeData(w, http.StatusCreated, created)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req updateIssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.Title != nil {
		if issue.Title, err = validateTitle(*req.Title); err != nil {
			fail(w, r, err)
			return
		}
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			fail(w, r, err)
			return
		}
		issue.Description = *req.Description
	}
	if req.Status != nil {
		if issue.Status, err = parseStatus(*req.Status); err != nil {
			fail(w, r, err)
			return
		}
	}
	if req.Priority != nil {
		if issue.Priority, err = parsePriority(*req.Priority); err != nil {
			fail(w, r, err)
			return
		}
	}
	if req.AssignedUserID.Set {
		issue.AssignedUserID = assignee(req.AssignedUserID.Value)
	}
	var tagIDs []int64
	if req.TagIDs != nil {
		tagIDs = *req.TagIDs
		if tagIDs == nil {
			tagIDs = []int64{}
		}
	}

	if err := s.store.UpdateIssue(r.Context(), issue, tagIDs); err != nil {
		fail(w, r, err)
		return
	}
	updated, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.store.DeleteIssue(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// enrichIssue asks the LLM for a better description, a priority and tags,
// then applies whatever is valid.
func (s *Server) enrichIssue(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "LLM not configured (set TRACKER_ANTHROPIC_API_KEY)")
		return
	}
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	byName := make(map[string]int64, len(tags))
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		byName[strings.ToLower(t.Name)] = t.ID
		names = append(names, t.Name)
	}

	enriched, err := s.llm.EnrichIssue(r.Context(), issue.Title, issue.Description, names)
	if err != nil {
		fail(w, r, fmt.Errorf("LLM enrichment failed: %w", err))
		return
	}

	if enriched.Description != "" {
		issue.Description = enriched.Description
	}
	if p := models.IssuePriority(enriched.Priority); p.Valid() {
		issue.Priority = p
	}
	tagIDs := issue.TagIDs()
	seen := make(map[int64]bool, len(tagIDs))
	for _, id := range tagIDs {
		seen[id] = true
	}
	for _, name := range enriched.Tags {
		if id, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok && !seen[id] {
			tagIDs = append(tagIDs, id)
			seen[id] = true
		}
	}

	if err := s.store.UpdateIssue(r.Context(), issue, tagIDs); err != nil {
		fail(w, r, err)
		return
	}
	updated, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}
