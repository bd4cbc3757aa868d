package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fieldadmin.org/internal/geo"
	"fieldadmin.org/internal/ids"
)

// Service ties the catalog, the hierarchy store and the token machinery into
// the authorization core: permission resolution, scope-fenced user
// management, and the session lifecycle.
type Service struct {
	store  Store
	geo    *geo.Deriver
	tokens *TokenService
	now    func() time.Time

	strictEmptyGrants bool
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithStrictEmptyGrants makes a restricted role with zero user-level grants
// resolve to no permissions instead of the full role ceiling.
func WithStrictEmptyGrants(strict bool) Option {
	return func(s *Service) {
		s.strictEmptyGrants = strict
	}
}

// NewService constructs the authorization core.
func NewService(store Store, geoStore geo.Store, tokens *TokenService, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if geoStore == nil {
		return nil, errors.New("auth: geo store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	s := &Service{
		store:  store,
		geo:    geo.NewDeriver(geoStore),
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session is the result of a successful login or refresh.
type Session struct {
	User             *User
	Role             *Role
	Permissions      map[string][]Action
	UserActions      []Action
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Login authenticates credentials and issues a token pair. The refresh row
// and the user's last-login stamp are persisted as one atomic unit; the row
// starts as a placeholder and is finalized to its signed form inside the same
// transaction.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Equalize timing with the known-email path.
			CompareDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role %d: %w", user.RoleID, err)
	}
	permissions, userActions, err := s.Resolve(ctx, role.ID, role.Name, user.ID)
	if err != nil {
		return nil, err
	}

	accessToken, accessExp, err := s.tokens.SignAccess(user, role, permissions)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	now := s.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.tokens.RefreshTTL()),
	}
	var refreshToken string
	finalize := func(tokenID string) (string, error) {
		signed, err := s.tokens.SignRefresh(user.ID, tokenID, rec.ExpiresAt)
		if err != nil {
			return "", err
		}
		refreshToken = signed
		return signed, nil
	}
	loginAt := now
	if err := s.store.RefreshTokens().Create(ctx, rec, finalize, &loginAt); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	user.LastLoginAt = &loginAt

	return &Session{
		User:             user,
		Role:             role,
		Permissions:      permissions,
		UserActions:      userActions,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token and issues a fresh pair. Permissions are
// re-resolved so grant changes since login take effect here. The presented
// token is revoked and replaced atomically; of two concurrent refreshes on
// the same token exactly one wins, the other observes ErrRevoked.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*Session, error) {
	claims, err := s.tokens.VerifyRefresh(rawToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rec, err := s.store.RefreshTokens().Find(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if rec.Revoked || s.now().After(rec.ExpiresAt) {
		return nil, ErrRevoked
	}
	if rec.UserID != claims.UserID {
		return nil, ErrMismatch
	}

	user, err := s.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if user.Deleted() {
		return nil, ErrDeleted
	}

	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role %d: %w", user.RoleID, err)
	}
	permissions, userActions, err := s.Resolve(ctx, role.ID, role.Name, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, accessExp, err := s.tokens.SignAccess(user, role, permissions)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	replacement := &RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		ExpiresAt: s.now().UTC().Add(s.tokens.RefreshTTL()),
	}
	var refreshToken string
	finalize := func(tokenID string) (string, error) {
		signed, err := s.tokens.SignRefresh(user.ID, tokenID, replacement.ExpiresAt)
		if err != nil {
			return "", err
		}
		refreshToken = signed
		return signed, nil
	}
	if err := s.store.RefreshTokens().Rotate(ctx, rec.ID, replacement, finalize); err != nil {
		return nil, err
	}

	return &Session{
		User:             user,
		Role:             role,
		Permissions:      permissions,
		UserActions:      userActions,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: replacement.ExpiresAt,
	}, nil
}

// Logout revokes every refresh token of the presenting user. It is
// deliberately infallible: an expired or tampered token is still decoded
// without verification to recover the owner, and revocation failures are
// logged but not surfaced; the caller has no recourse anyway.
func (s *Service) Logout(ctx context.Context, rawToken string) {
	claims, err := s.tokens.VerifyRefresh(rawToken)
	if err != nil {
		decoded, ok := s.tokens.DecodeUnverifiedRefresh(rawToken)
		if !ok {
			return
		}
		claims = decoded
	}
	if err := s.store.RefreshTokens().RevokeAllForUser(ctx, claims.UserID); err != nil {
		slog.WarnContext(ctx, "logout revocation failed", "user_id", claims.UserID, "err", err)
	}
}

// actor loads the acting user and its role, rejecting deleted accounts.
func (s *Service) actor(ctx context.Context, actorID int64) (*User, *Role, error) {
	user, err := s.store.Users().Find(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	if user.Deleted() {
		return nil, nil, ErrDeleted
	}
	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return nil, nil, fmt.Errorf("load role %d: %w", user.RoleID, err)
	}
	return user, role, nil
}
