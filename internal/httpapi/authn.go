package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fieldadmin.org/internal/auth"
	"fieldadmin.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Paths served without an access token. Refresh and logout authenticate with
// the refresh token carried in the body.
var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.CountAuthFailure("missing_token")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.VerifyAccess(token)
		if err != nil {
			obs.CountAuthFailure("invalid_token")
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal := auth.Principal{
			UserID:      claims.UserID,
			RoleID:      claims.RoleID,
			RoleName:    claims.RoleName,
			Permissions: claims.Permissions,
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = obs.ContextWithUserID(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission gates a handler on the module capability embedded in the
// access token. Writes the error response itself and reports whether the
// request may proceed.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, module string, action auth.Action) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		obs.CountAuthFailure("missing_principal")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.Allows(module, action) {
		obs.CountAuthFailure("forbidden")
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func principalID(r *http.Request) (int64, error) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return 0, errors.New("authentication required")
	}
	return principal.UserID, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
