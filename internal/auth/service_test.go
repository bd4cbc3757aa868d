package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginIssuesSession(t *testing.T) {
	svc, store, ts, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "District@Example.Test ", testPassword)
	require.NoError(t, err)
	require.Equal(t, userDistrict, session.User.ID)
	require.Equal(t, "district_admin", session.Role.Name)
	require.Equal(t, []Action{ActionView, ActionAdd, ActionEdit}, session.Permissions[ModuleReports])

	claims, err := ts.VerifyAccess(session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, userDistrict, claims.UserID)
	require.Equal(t, session.Permissions, claims.Permissions)

	refresh, err := ts.VerifyRefresh(session.RefreshToken)
	require.NoError(t, err)
	rec, ok := store.tokens[refresh.TokenID]
	require.True(t, ok, "refresh row persisted")
	require.Equal(t, session.RefreshToken, rec.Token, "row finalized to the signed form")
	require.False(t, rec.Revoked)
	require.Equal(t, clock.Now().Add(24*time.Hour), rec.ExpiresAt)

	require.NotNil(t, store.users[userDistrict].LastLoginAt)
	require.Equal(t, clock.Now(), *store.users[userDistrict].LastLoginAt)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "nobody@example.test", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "district@example.test", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsDeletedAccount(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()

	at := clock.Now()
	require.NoError(t, store.Users().SoftDelete(ctx, userDistrict, at))

	_, err := svc.Login(ctx, "district@example.test", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotates(t *testing.T) {
	svc, store, ts, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	// Grants changed after login take effect on refresh, not before.
	store.userPerms[userUnit] = []int64{1}

	clock.Advance(10 * time.Minute)
	next, err := svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, []Action{ActionView}, next.Permissions[ModuleReports])

	claims, err := ts.VerifyRefresh(session.RefreshToken)
	require.NoError(t, err)
	require.True(t, store.tokens[claims.TokenID].Revoked, "presented token is revoked")

	newClaims, err := ts.VerifyRefresh(next.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, claims.TokenID, newClaims.TokenID)
	require.False(t, store.tokens[newClaims.TokenID].Revoked)
}

func TestStaleAccessTokenKeepsIssuedPermissions(t *testing.T) {
	svc, store, ts, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)
	issued := session.Permissions

	// Narrow the grants after issuance. The outstanding access token keeps
	// its embedded permission map until it is exchanged.
	store.userPerms[userUnit] = []int64{1}
	clock.Advance(5 * time.Minute)

	stale, err := ts.VerifyAccess(session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, issued, stale.Permissions)
	require.Equal(t, []Action{ActionView, ActionAdd, ActionEdit}, stale.Permissions[ModuleReports])

	next, err := svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, []Action{ActionView}, next.Permissions[ModuleReports])

	fresh, err := ts.VerifyAccess(next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, next.Permissions, fresh.Permissions)
}

func TestRefreshReuseLoses(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated token observes the revocation.
	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, session.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRejectsMismatchedOwner(t *testing.T) {
	svc, store, ts, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	// The persisted row now claims a different owner than the token.
	claims, err := ts.VerifyRefresh(session.RefreshToken)
	require.NoError(t, err)
	store.tokens[claims.TokenID].UserID = userDistrict

	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrMismatch)
}

func TestRefreshRejectsDeletedAccount(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	// Mark deleted without touching the tokens so the account check fires.
	at := clock.Now()
	store.users[userUnit].DeletedAt = &at

	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrDeleted)
}

func TestLogoutRevokesAll(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)
	_, err = svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	svc.Logout(ctx, first.RefreshToken)
	for _, tok := range store.tokens {
		require.True(t, tok.Revoked)
	}
}

func TestLogoutWithExpiredTokenStillRevokes(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	svc.Logout(ctx, session.RefreshToken)
	for _, tok := range store.tokens {
		require.True(t, tok.Revoked)
	}
}

func TestLogoutIgnoresGarbage(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "unit@example.test", testPassword)
	require.NoError(t, err)

	svc.Logout(ctx, "not-a-token")
	for _, tok := range store.tokens {
		require.False(t, tok.Revoked)
	}
	_ = session
}
