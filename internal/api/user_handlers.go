package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/credential"
	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/store"
)

// UserHandler covers the admin-only user, group, and role-permission
// management surface (spec §4.2, §8).
type UserHandler struct {
	Store       store.Store
	Credentials *credential.Service
	Roles       *authz.Registry
}

func NewUserHandler(st store.Store, credentials *credential.Service, roles *authz.Registry) *UserHandler {
	return &UserHandler{Store: st, Credentials: credentials, Roles: roles}
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context(), r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list users failed")
		return
	}
	out := make([]userPublic, 0, len(users))
	for _, u := range users {
		out = append(out, toUserPublic(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetRole implements the role-elevation state machine of spec §4.2. A
// caller may never change their own role.
func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if targetID == ac.UserID {
		writeError(w, http.StatusForbidden, "cannot change your own role")
		return
	}

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := h.Store.GetUserByID(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	newRole, isPermanentAdmin, err := authz.ChangeRole(target.EffectiveRole(), target.IsPermanentAdmin, authz.Role(req.Role))
	if err != nil {
		if errors.Is(err, authz.ErrPermanentAdminDowngrade) {
			writeError(w, http.StatusForbidden, "a permanent admin cannot be downgraded")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	if err := h.Store.SetUserRole(r.Context(), targetID, store.Role(newRole), isPermanentAdmin); err != nil {
		writeError(w, http.StatusInternalServerError, "set role failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "role updated", "role": newRole, "is_permanent_admin": isPermanentAdmin})
}

func (h *UserHandler) DisableUser(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if targetID == ac.UserID {
		writeError(w, http.StatusForbidden, "cannot disable your own account")
		return
	}
	u, err := h.Store.GetUserByID(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	u.IsActive = false
	if err := h.Store.UpdateUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "disable failed")
		return
	}
	if err := h.Store.DeleteSessionsForUser(r.Context(), targetID); err != nil {
		writeError(w, http.StatusInternalServerError, "session cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "user disabled"})
}

// --- Groups ---

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *UserHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	g := &store.Group{Name: req.Name, Description: req.Description}
	if err := h.Store.CreateGroup(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, "create group failed")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *UserHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list groups failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *UserHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if err := h.Store.DeleteGroup(r.Context(), groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete group failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "group deleted"})
}

func (h *UserHandler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := h.Store.AddUserToGroup(r.Context(), userID, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "add member failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "member added"})
}

func (h *UserHandler) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := h.Store.RemoveUserFromGroup(r.Context(), userID, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "remove member failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "member removed"})
}

// --- Admin role-permission table (spec §8) ---

type rolePermissionRowJSON struct {
	Role         string `json:"role"`
	ResourceType string `json:"resource_type"`
	Permission   string `json:"permission"`
}

func rowsToJSON(rows []authz.Row) []rolePermissionRowJSON {
	out := make([]rolePermissionRowJSON, 0, len(rows)*2)
	for _, row := range rows {
		for p, ok := range row.Permissions {
			if !ok {
				continue
			}
			out = append(out, rolePermissionRowJSON{
				Role:         string(row.Role),
				ResourceType: string(row.ResourceType),
				Permission:   string(p),
			})
		}
	}
	return out
}

func (h *UserHandler) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rows": rowsToJSON(h.Roles.Rows())})
}

func (h *UserHandler) GetRolePermissionsForRole(w http.ResponseWriter, r *http.Request) {
	role := authz.Role(chi.URLParam(r, "role"))
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rowsToJSON(h.Roles.RowsForRole(role))})
}

type rolePermissionMutationRequest struct {
	Role         string `json:"role"`
	ResourceType string `json:"resource_type"`
	Permission   string `json:"permission"`
}

func (h *UserHandler) AddRolePermission(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Roles.Add(r.Context(), authz.Role(req.Role), authz.ResourceType(req.ResourceType), authz.Permission(req.Permission)); err != nil {
		if errors.Is(err, authz.ErrAdminImmutable) {
			writeError(w, http.StatusForbidden, "the admin role-permission row is immutable")
			return
		}
		writeError(w, http.StatusInternalServerError, "add permission failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "permission added"})
}

func (h *UserHandler) RemoveRolePermission(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Roles.Remove(r.Context(), authz.Role(req.Role), authz.ResourceType(req.ResourceType), authz.Permission(req.Permission)); err != nil {
		if errors.Is(err, authz.ErrAdminImmutable) {
			writeError(w, http.StatusForbidden, "the admin role-permission row is immutable")
			return
		}
		writeError(w, http.StatusInternalServerError, "remove permission failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "permission removed"})
}

func (h *UserHandler) ResetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role := authz.Role(chi.URLParam(r, "role"))
	if err := h.Roles.Reset(r.Context(), role); err != nil {
		if errors.Is(err, authz.ErrAdminImmutable) {
			writeError(w, http.StatusForbidden, "the admin role-permission row is immutable")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "role reset to defaults"})
}
