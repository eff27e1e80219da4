package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openroster/rosterd/pkg/membership"
)

// ResolveGroups returns the user's resolved membership map.
func (s *Server) ResolveGroups(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	groups, err := s.resolver.ResolveGroups(r.Context(), userID)
	if err != nil {
		s.logger.WithError(err).Error("failed to resolve groups")
		writeError(w, http.StatusInternalServerError, "failed to resolve groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// ResolvePermissions returns the user's compiled permission tree.
func (s *Server) ResolvePermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	tree, err := s.resolver.ResolvePermissions(r.Context(), userID)
	if err != nil {
		s.logger.WithError(err).Error("failed to resolve permissions")
		writeError(w, http.StatusInternalServerError, "failed to resolve permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tree":  tree,
		"paths": tree.Paths(),
	})
}

// CheckPermission answers whether the user holds the dotted permission path
// given in the "path" query parameter.
func (s *Server) CheckPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	allowed, err := s.resolver.HasPermission(r.Context(), userID, path)
	if err != nil {
		s.logger.WithError(err).Error("failed to check permission")
		writeError(w, http.StatusInternalServerError, "failed to check permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"allowed": allowed,
	})
}

// JoinGroup adds the user to a group.
func (s *Server) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		GroupID  int64    `json:"group_id"`
		Args     []string `json:"args,omitempty"`
		TimeFrom int64    `json:"time_from,omitempty"`
		TimeTo   *int64   `json:"time_to,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GroupID == 0 {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	resolved, err := s.resolver.AddToGroup(r.Context(), userID, req.GroupID, req.Args, req.TimeFrom, req.TimeTo)
	switch {
	case errors.Is(err, membership.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "group not found")
		return
	case errors.Is(err, membership.ErrGroupNotJoinable):
		writeError(w, http.StatusForbidden, "group does not accept direct members")
		return
	case err != nil:
		s.logger.WithError(err).Error("failed to add user to group")
		writeError(w, http.StatusInternalServerError, "failed to add user to group")
		return
	}
	writeJSON(w, http.StatusCreated, resolved)
}

// LeaveGroup ends the user's membership in a group.
func (s *Server) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	groupID, err := pathID(r, "group_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	ended, err := s.resolver.EndMembership(r.Context(), userID, groupID)
	if err != nil {
		s.logger.WithError(err).Error("failed to end membership")
		writeError(w, http.StatusInternalServerError, "failed to end membership")
		return
	}
	if !ended {
		writeError(w, http.StatusNotFound, "user is not a member of the group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantUserPermission grants an individual permission string to the user.
func (s *Server) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	perm, ok := permissionParam(w, r)
	if !ok {
		return
	}

	if err := s.groups.GrantUserPermission(r.Context(), userID, perm); err != nil {
		s.logger.WithError(err).Error("failed to grant user permission")
		writeError(w, http.StatusInternalServerError, "failed to grant permission")
		return
	}
	s.resolver.Invalidate(userID)
	w.WriteHeader(http.StatusNoContent)
}

// RevokeUserPermission revokes an individual permission string from the
// user.
func (s *Server) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	perm, ok := permissionParam(w, r)
	if !ok {
		return
	}

	if err := s.groups.RevokeUserPermission(r.Context(), userID, perm); err != nil {
		s.logger.WithError(err).Error("failed to revoke user permission")
		writeError(w, http.StatusInternalServerError, "failed to revoke permission")
		return
	}
	s.resolver.Invalidate(userID)
	w.WriteHeader(http.StatusNoContent)
}

// permissionParam reads the permission string from the body for POST or the
// query for DELETE.
func permissionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method == http.MethodDelete {
		perm := r.URL.Query().Get("permission")
		if perm == "" {
			writeError(w, http.StatusBadRequest, "permission query parameter is required")
			return "", false
		}
		return perm, true
	}
	var req struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Permission == "" {
		writeError(w, http.StatusBadRequest, "permission is required")
		return "", false
	}
	return req.Permission, true
}
