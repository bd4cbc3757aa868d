package auth

import (
	"context"
	"time"

	"fieldadmin.org/internal/geo"
)

// Store describes the persistence surface of the authorization core.
type Store interface {
	Roles() RoleStore
	Permissions() PermissionStore
	Users() UserStore
	RefreshTokens() RefreshTokenStore
}

// RoleStore reads the fixed role catalog.
type RoleStore interface {
	Find(ctx context.Context, id int64) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
}

// PermissionStore manages the permission catalog and both grant tables.
// Role and user grants are replaced wholesale, never incrementally.
type PermissionStore interface {
	ModuleCodes(ctx context.Context) ([]string, error)
	ByRole(ctx context.Context, roleID int64) (map[string][]Action, error)
	UserActions(ctx context.Context, userID int64) ([]Action, error)
	SetForRole(ctx context.Context, roleID int64, permissionIDs []int64) error
	SetForUser(ctx context.Context, userID int64, permissionIDs []int64) error
}

// Fence restricts a listing to one branch of the hierarchy.
type Fence struct {
	Tier geo.Tier
	ID   int64
}

// UserFilter narrows List results. Deleted users are always excluded.
type UserFilter struct {
	RoleIDs []int64
	Fence   *Fence
}

// UserStore manages user rows together with their wholesale-replaced
// user-level grants.
type UserStore interface {
	// Find returns the user including soft-deleted rows, so callers can
	// distinguish "deleted" from "never existed".
	Find(ctx context.Context, id int64) (*User, error)
	// FindByEmail only matches active users.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Create persists the user and its user-level grants as one unit.
	Create(ctx context.Context, u *User, grantIDs []int64) error
	// Update persists the row and, when replaceGrants is set, swaps the
	// user-level grants in the same transaction.
	Update(ctx context.Context, u *User, grantIDs []int64, replaceGrants bool) error
	// SoftDelete marks the user deleted and revokes all of its refresh
	// tokens atomically, so issued sessions die with the account.
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	List(ctx context.Context, f UserFilter) ([]*User, error)
}

// TokenFinalizer signs the refresh token once its row id is fixed; the store
// writes the result over the placeholder inside the same transaction.
type TokenFinalizer func(tokenID string) (string, error)

// RefreshTokenStore manages the refresh token lifecycle.
type RefreshTokenStore interface {
	// Create inserts the row with a placeholder token, finalizes it to the
	// signed form and, when loginAt is set, stamps the owner's last login,
	// all in one transaction.
	Create(ctx context.Context, tok *RefreshToken, finalize TokenFinalizer, loginAt *time.Time) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate revokes the old row and persists its replacement atomically.
	// When the old row was already revoked it returns ErrRevoked and writes
	// nothing, so concurrent refreshes have exactly one winner.
	Rotate(ctx context.Context, oldID string, replacement *RefreshToken, finalize TokenFinalizer) error
	RevokeAllForUser(ctx context.Context, userID int64) error
}
