package httpapi

import (
	"errors"
	"net/http"
	"time"

	"fieldadmin.org/internal/audit"
	"fieldadmin.org/internal/auth"
	"fieldadmin.org/internal/geo"
	"fieldadmin.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userView struct {
	ID          int64         `json:"id"`
	Email       string        `json:"email"`
	RoleID      int64         `json:"role_id"`
	Placement   geo.Placement `json:"placement"`
	LastLoginAt *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func viewOf(u *auth.User) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		RoleID:      u.RoleID,
		Placement:   u.Placement,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type sessionResponse struct {
	TokenType        string                   `json:"token_type"`
	AccessToken      string                   `json:"access_token"`
	AccessExpiresAt  time.Time                `json:"access_expires_at"`
	RefreshToken     string                   `json:"refresh_token"`
	RefreshExpiresAt time.Time                `json:"refresh_expires_at"`
	User             userView                 `json:"user"`
	Role             string                   `json:"role"`
	Permissions      map[string][]auth.Action `json:"permissions"`
	UserActions      []auth.Action            `json:"user_actions,omitempty"`
}

func sessionOf(s *auth.Session) sessionResponse {
	return sessionResponse{
		TokenType:        "Bearer",
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
		User:             viewOf(s.User),
		Role:             s.Role.Name,
		Permissions:      s.Permissions,
		UserActions:      s.UserActions,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.CountAuthFailure("bad_credentials")
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
				"email": req.Email,
			})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"user_id": session.User.ID,
		"role":    session.Role.Name,
	})
	writeJSON(w, http.StatusOK, sessionOf(session))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken),
			errors.Is(err, auth.ErrRevoked),
			errors.Is(err, auth.ErrMismatch),
			errors.Is(err, auth.ErrDeleted):
			obs.CountAuthFailure("bad_refresh")
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		default:
			handleServiceError(w, r, err)
		}
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventRefresh, map[string]any{
		"user_id": session.User.ID,
	})
	writeJSON(w, http.StatusOK, sessionOf(session))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Logout never fails toward the client; a dead token leaves nothing to do.
	a.svc.Logout(r.Context(), req.RefreshToken)
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	w.WriteHeader(http.StatusNoContent)
}
