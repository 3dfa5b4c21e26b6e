package api

import (
	"net/http"
	"strings"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	filter := store.UserListFilter{Search: strings.TrimSpace(r.URL.Query().Get("search")), Pagination: p}
	users, total, err := s.store.ListUsers(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeList(w, users, p, total)
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, auth.UserFrom(r.Context()))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if auth.UserFrom(r.Context()).ID != id {
		fail(w, r, forbidden("You can only update your own account"))
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			fail(w, r, badRequest("name cannot be empty"))
			return
		}
		u.Name = name
	}
	if req.Email != nil {
		email, err := auth.NormalizeEmail(*req.Email)
		if err != nil {
			fail(w, r, err)
			return
		}
		u.Email = email
	}
	if err := s.store.UpdateUser(r.Context(), u); err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if auth.UserFrom(r.Context()).ID != id {
		fail(w, r, forbidden("You can only delete your own account"))
		return
	}
	if err := s.auth.RevokeUserSessions(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
