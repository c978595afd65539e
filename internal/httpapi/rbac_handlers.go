package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"gatekit.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type registerPermissionsRequest struct {
	Permissions []auth.Permission `json:"permissions"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermissionManageRoles) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		role := &auth.Role{Name: req.Name, Description: req.Description}
		if err := a.store.Roles(r.Context()).Create(r.Context(), role); err != nil {
			handleStoreError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.role.create", "role", role.ID, map[string]string{
			"name": role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermissionManageRoles) {
			return
		}
		roles, err := a.store.Roles(r.Context()).List(r.Context())
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleRole(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManageRoles) {
		return
	}
	role, err := a.store.Roles(r.Context()).Find(r.Context(), roleID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	perms, err := a.store.Permissions(r.Context()).PermissionsForRole(r.Context(), roleID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"permissions": keys,
	})
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionManagePermissions) {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.store.Roles(r.Context()).Find(r.Context(), roleID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	if err := a.store.Permissions(r.Context()).SetForRole(r.Context(), roleID, req.Permissions); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.audit(r.Context(), "iam.role.permissions.update", "role", roleID, map[string]string{
		"count": strconv.Itoa(len(req.Permissions)),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleIdentityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/identities/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "assignments" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleAssignments(w, r, parts[0])
}

func (a *API) handleAssignments(w http.ResponseWriter, r *http.Request, identityID string) {
	if !a.ensurePermissions(w, r, auth.PermissionManageIdentities) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		assignments, err := a.store.Roles(r.Context()).Assignments(r.Context(), identityID)
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": assignments})
	case http.MethodPost:
		roleID, ok := a.decodeRoleID(w, r)
		if !ok {
			return
		}
		if _, err := a.store.Identities(r.Context()).Find(r.Context(), identityID); err != nil {
			handleStoreError(w, r, err)
			return
		}
		if _, err := a.store.Roles(r.Context()).Find(r.Context(), roleID); err != nil {
			handleStoreError(w, r, err)
			return
		}
		if err := a.store.Roles(r.Context()).Assign(r.Context(), auth.Assignment{IdentityID: identityID, RoleID: roleID}); err != nil {
			handleStoreError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.role.assigned", "identity", identityID, map[string]string{
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		roleID, ok := a.decodeRoleID(w, r)
		if !ok {
			return
		}
		if err := a.store.Roles(r.Context()).Unassign(r.Context(), identityID, roleID); err != nil {
			handleStoreError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.role.unassigned", "identity", identityID, map[string]string{
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) decodeRoleID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return "", false
	}
	return req.RoleID, true
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermissionManagePermissions) {
			return
		}
		perms, err := a.store.Permissions(r.Context()).List(r.Context())
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermissionManagePermissions) {
			return
		}
		var req registerPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Permissions) == 0 {
			writeError(w, r, http.StatusBadRequest, "permissions are required")
			return
		}
		if err := a.store.Permissions(r.Context()).Ensure(r.Context(), req.Permissions); err != nil {
			handleStoreError(w, r, err)
			return
		}
		a.audit(r.Context(), "iam.permissions.register", "permission", "", map[string]string{
			"count": strconv.Itoa(len(req.Permissions)),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermissionReadAudit) {
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}
	entries, err := a.store.Audit(r.Context()).ListRecent(r.Context(), limit)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
