package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds; a refresh token is never accepted where an access token is
// expected and vice versa.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// AccessClaims is the payload of an access token. Permissions are embedded at
// issuance so request authorization never goes back to the catalog.
type AccessClaims struct {
	Kind        string              `json:"kind"`
	UserID      int64               `json:"uid"`
	RoleID      int64               `json:"rid"`
	RoleName    string              `json:"rol"`
	Permissions map[string][]Action `json:"pbm,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token; TokenID points at the
// persisted row.
type RefreshClaims struct {
	Kind    string `json:"kind"`
	UserID  int64  `json:"uid"`
	TokenID string `json:"tid"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies both token kinds using HS256.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if fn != nil {
			ts.now = fn
		}
	}
}

// NewTokenService constructs a TokenService.
func NewTokenService(secret, issuer string, accessTTL, refreshTTL time.Duration, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	ts := &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts, nil
}

// AccessTTL returns the configured access token lifetime.
func (ts *TokenService) AccessTTL() time.Duration { return ts.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

// SignAccess issues an access token for the user with its resolved
// permissions embedded.
func (ts *TokenService) SignAccess(user *User, role *Role, permissions map[string][]Action) (string, time.Time, error) {
	now := ts.now().UTC()
	exp := now.Add(ts.accessTTL)
	claims := AccessClaims{
		Kind:        KindAccess,
		UserID:      user.ID,
		RoleID:      role.ID,
		RoleName:    role.Name,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// SignRefresh issues a refresh token bound to its persisted row.
func (ts *TokenService) SignRefresh(userID int64, tokenID string, expiresAt time.Time) (string, error) {
	now := ts.now().UTC()
	claims := RefreshClaims{
		Kind:    KindRefresh,
		UserID:  userID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
}

// VerifyAccess checks the signature, expiry and kind of an access token.
func (ts *TokenService) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.verify(token, claims); err != nil {
		return nil, err
	}
	if claims.Kind != KindAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh checks the signature, expiry and kind of a refresh token.
func (ts *TokenService) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ts.verify(token, claims); err != nil {
		return nil, err
	}
	if claims.Kind != KindRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnverifiedRefresh recovers refresh claims without checking the
// signature or expiry. Used only by logout to identify whose tokens to
// revoke when the presented token no longer verifies.
func (ts *TokenService) DecodeUnverifiedRefresh(token string) (*RefreshClaims, bool) {
	claims := &RefreshClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, false
	}
	if claims.Kind != KindRefresh || claims.UserID == 0 {
		return nil, false
	}
	return claims, true
}

func (ts *TokenService) verify(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return ts.secret, nil
	}, jwt.WithTimeFunc(ts.now), jwt.WithIssuer(ts.issuer))
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
