package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthMiddlewarePublicPaths(t *testing.T) {
	h, _, _ := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	h, _, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsBadScheme(t *testing.T) {
	h, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Basic ZGVtbzpkZW1v")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	h, _, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/users", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsRefreshTokenAsBearer(t *testing.T) {
	h, _, tokens := newTestAPI(t)

	refresh, err := tokens.SignRefresh(2, "tok-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodGet, "/v1/users", refresh, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := extractBearerToken("Bearer abc")
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	tok, err = extractBearerToken("bearer abc")
	require.NoError(t, err, "scheme is case-insensitive")
	require.Equal(t, "abc", tok)

	_, err = extractBearerToken("")
	require.Error(t, err)
	_, err = extractBearerToken("Bearer ")
	require.Error(t, err)
	_, err = extractBearerToken("Token abc")
	require.Error(t, err)
}
