package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fieldadmin.org/internal/audit"
	"fieldadmin.org/internal/auth"
	"fieldadmin.org/internal/geo"
	"fieldadmin.org/internal/obs"
)

type createUserRequest struct {
	Email         string        `json:"email"`
	Password      string        `json:"password"`
	RoleID        int64         `json:"role_id"`
	Placement     geo.Placement `json:"placement"`
	PermissionIDs []int64       `json:"permission_ids"`
}

type updateUserRequest struct {
	Email         *string        `json:"email"`
	Password      *string        `json:"password"`
	RoleID        *int64         `json:"role_id"`
	Placement     *geo.Placement `json:"placement"`
	PermissionIDs *[]int64       `json:"permission_ids"`
}

type permissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleUserCreate(w, r)
	case http.MethodGet:
		a.handleUserList(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionAdd) {
		return
	}
	actorID, err := principalID(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.svc.CreateUser(r.Context(), actorID, auth.CreateUserInput{
		Email:         req.Email,
		Password:      req.Password,
		RoleID:        req.RoleID,
		Placement:     req.Placement,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventUserCreate, map[string]any{
		"target_id": user.ID,
		"role_id":   user.RoleID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%d", user.ID))
	writeJSON(w, http.StatusCreated, viewOf(user))
}

func (a *API) handleUserList(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionView) {
		return
	}
	actorID, err := principalID(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	var in auth.ListUsersInput
	if raw := r.URL.Query().Get("role_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "role_id must be an integer")
			return
		}
		in.RoleID = &id
	}

	users, err := a.svc.ListUsers(r.Context(), actorID, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	targetID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case len(parts) == 1:
		a.handleUser(w, r, targetID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, targetID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, targetID int64) {
	actorID, err := principalID(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionView) {
			return
		}
		user, err := a.svc.GetUser(r.Context(), actorID, targetID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(user))

	case http.MethodPut:
		if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionEdit) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateUser(r.Context(), actorID, targetID, auth.UpdateUserInput{
			Email:         req.Email,
			Password:      req.Password,
			RoleID:        req.RoleID,
			Placement:     req.Placement,
			PermissionIDs: req.PermissionIDs,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.EventUserUpdate, map[string]any{
			"target_id": user.ID,
		})
		writeJSON(w, http.StatusOK, viewOf(user))

	case http.MethodDelete:
		if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionDelete) {
			return
		}
		if err := a.svc.DeleteUser(r.Context(), actorID, targetID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.EventUserDelete, map[string]any{
			"target_id": targetID,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, targetID int64) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionEdit) {
		return
	}
	actorID, err := principalID(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetUserPermissions(r.Context(), actorID, targetID, req.PermissionIDs); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserPermsUpdate, map[string]any{
		"target_id": targetID,
		"count":     len(req.PermissionIDs),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, auth.ModuleUserScope, auth.ActionEdit) {
		return
	}
	actorID, err := principalID(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetRolePermissions(r.Context(), actorID, roleID, req.PermissionIDs); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRolePermsUpdate, map[string]any{
		"role_id": roleID,
		"count":   len(req.PermissionIDs),
	})
	w.WriteHeader(http.StatusNoContent)
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidReference):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrRoleEscalation),
		errors.Is(err, auth.ErrOutOfScope),
		errors.Is(err, auth.ErrRankViolation),
		errors.Is(err, auth.ErrSelfDeletion),
		errors.Is(err, auth.ErrDeleted):
		obs.CountAuthFailure("forbidden")
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict), errors.Is(err, auth.ErrAlreadyDeleted):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
