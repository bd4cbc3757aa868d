package auth

import (
	"strings"
	"time"

	"fieldadmin.org/internal/geo"
)

// Action is one of the four operations a permission can grant on a module.
type Action string

const (
	ActionView   Action = "VIEW"
	ActionAdd    Action = "ADD"
	ActionEdit   Action = "EDIT"
	ActionDelete Action = "DELETE"
)

// Actions lists every action in canonical order.
var Actions = []Action{ActionView, ActionAdd, ActionEdit, ActionDelete}

var actionRank = map[Action]int{ActionView: 0, ActionAdd: 1, ActionEdit: 2, ActionDelete: 3}

func (a Action) Valid() bool {
	_, ok := actionRank[a]
	return ok
}

// RestrictedSuffix marks roles whose effective permissions are capped by
// per-user grants.
const RestrictedSuffix = "_user"

// Role is one of the fixed administrative roles. HierarchyLevel 0 is the
// unrestricted top role; higher levels are weaker and pin the role to one
// geographic tier (level n holds tier n-1).
type Role struct {
	ID             int64
	Name           string
	HierarchyLevel int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Restricted reports whether per-user grants cap this role's permissions.
func (r *Role) Restricted() bool {
	return strings.HasSuffix(r.Name, RestrictedSuffix)
}

// Top reports whether this is the unrestricted top role.
func (r *Role) Top() bool {
	return r.HierarchyLevel == 0
}

// Tier returns the geographic tier this role is pinned to. The top role has
// no tier.
func (r *Role) Tier() (geo.Tier, bool) {
	if r.HierarchyLevel < 1 || r.HierarchyLevel > len(geo.Tiers) {
		return 0, false
	}
	return geo.Tiers[r.HierarchyLevel-1], true
}

// Permission is a module capability crossed with an action.
type Permission struct {
	ID         int64
	ModuleCode string
	Action     Action
}

// User is an administrative account placed at exactly one tier of the
// hierarchy.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	RoleID       int64
	Placement    geo.Placement
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}

// RefreshToken is the persisted half of an issued refresh token. Token holds
// the signed form; the row is written with a placeholder first and finalized
// in the same transaction.
type RefreshToken struct {
	ID        string
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}
