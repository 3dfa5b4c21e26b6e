package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/joescharf/tracker/internal/models"
)

const maxTagNameLength = 50

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type tagRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func validateTagName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", badRequest("name is required")
	}
	if len(name) > maxTagNameLength {
		return "", badRequest("name must be at most 50 characters")
	}
	return name, nil
}

func validateColor(color string) error {
	if !hexColor.MatchString(color) {
		return badRequest("color must be a hex color like #3b82f6")
	}
	return nil
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if tags == nil {
		tags = []*models.Tag{}
	}
	writeData(w, http.StatusOK, tags)
}

func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	tag, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tag)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	var tag models.Tag
	var err error
	if req.Name == nil {
		fail(w, r, badRequest("name is required"))
		return
	}
	if tag.Name, err = validateTagName(*req.Name); err != nil {
		fail(w, r, err)
		return
	}
	if req.Color != nil {
		if err := validateColor(*req.Color); err != nil {
			fail(w, r, err)
			return
		}
		tag.Color = *req.Color
	}
	if err := s.store.CreateTag(r.Context(), &tag); err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, tag)
}

func (s *Server) updateTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	tag, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.Name != nil {
		if tag.Name, err = validateTagName(*req.Name); err != nil {
			fail(w, r, err)
			return
		}
	}
	if req.Color != nil {
		if err := validateColor(*req.Color); err != nil {
			fail(w, r, err)
			return
		}
		tag.Color = *req.Color
	}
	if err := s.store.UpdateTag(r.Context(), tag); err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tag)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.store.DeleteTag(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
