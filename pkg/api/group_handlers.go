package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openroster/rosterd/pkg/membership"
)

// CreateGroup creates a new group.
func (s *Server) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var g membership.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if g.NameBase == "" {
		writeError(w, http.StatusBadRequest, "name_base is required")
		return
	}

	if err := s.groups.CreateGroup(r.Context(), &g); err != nil {
		s.logger.WithError(err).Error("failed to create group")
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, &g)
}

// ListGroups lists groups; ?searchable=true restricts to searchable ones.
func (s *Server) ListGroups(w http.ResponseWriter, r *http.Request) {
	onlySearchable := r.URL.Query().Get("searchable") == "true"

	groups, err := s.groups.ListGroups(r.Context(), onlySearchable)
	if err != nil {
		s.logger.WithError(err).Error("failed to list groups")
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// GetGroup retrieves a group by id.
func (s *Server) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	g, err := s.groups.GetGroup(r.Context(), id)
	if errors.Is(err, membership.ErrGroupNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to get group")
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// UpdateGroup updates a group's fields. Cached resolutions may hold the old
// group record until their next invalidation, so the whole cache is
// dropped.
func (s *Server) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	var g membership.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	g.ID = id

	err = s.groups.UpdateGroup(r.Context(), &g)
	if errors.Is(err, membership.ErrGroupNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to update group")
		writeError(w, http.StatusInternalServerError, "failed to update group")
		return
	}
	s.resolver.InvalidateAll()
	writeJSON(w, http.StatusOK, &g)
}

// DeleteGroup deletes a group.
func (s *Server) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	err = s.groups.DeleteGroup(r.Context(), id)
	if errors.Is(err, membership.ErrGroupNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to delete group")
		writeError(w, http.StatusInternalServerError, "failed to delete group")
		return
	}
	s.resolver.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

// GrantGroupPermission grants a permission string to a group.
func (s *Server) GrantGroupPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	perm, ok := permissionParam(w, r)
	if !ok {
		return
	}

	if err := s.groups.GrantGroupPermission(r.Context(), id, perm); err != nil {
		s.logger.WithError(err).Error("failed to grant group permission")
		writeError(w, http.StatusInternalServerError, "failed to grant permission")
		return
	}
	// A group grant can affect any user that reaches the group.
	s.resolver.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

// RevokeGroupPermission revokes a permission string from a group.
func (s *Server) RevokeGroupPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	perm, ok := permissionParam(w, r)
	if !ok {
		return
	}

	if err := s.groups.RevokeGroupPermission(r.Context(), id, perm); err != nil {
		s.logger.WithError(err).Error("failed to revoke group permission")
		writeError(w, http.StatusInternalServerError, "failed to revoke permission")
		return
	}
	s.resolver.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}
