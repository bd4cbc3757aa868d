package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fieldadmin.org/internal/geo"
)

// User management. Every mutation runs the rank and scope guard before it
// touches storage; once a check fails nothing is written.

// CreateUserInput carries a user-creation request.
type CreateUserInput struct {
	Email         string
	Password      string
	RoleID        int64
	Placement     geo.Placement
	PermissionIDs []int64
}

// CreateUser creates a user on behalf of actorID. The requested role must be
// in the actor's creatable set; the placement is inherited at and above the
// actor's tier, derived, and scope-checked below it.
func (s *Service) CreateUser(ctx context.Context, actorID int64, in CreateUserInput) (*User, error) {
	actor, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	targetRole, err := s.store.Roles().Find(ctx, in.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown role %d", ErrInvalidInput, in.RoleID)
		}
		return nil, err
	}
	if !Creatable(actorRole, targetRole) {
		return nil, fmt.Errorf("%w: %s may not assign %s", ErrRoleEscalation, actorRole.Name, targetRole.Name)
	}

	placement, err := s.placementFor(ctx, actor, actorRole, targetRole, in.Placement)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		RoleID:       targetRole.ID,
		Placement:    placement,
	}
	var grants []int64
	if targetRole.Restricted() {
		grants = in.PermissionIDs
	}
	if err := s.store.Users().Create(ctx, user, grants); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUserInput carries a partial update; nil fields are left untouched.
// PermissionIDs, when present, replace the user-level grants wholesale.
type UpdateUserInput struct {
	Email         *string
	Password      *string
	RoleID        *int64
	Placement     *geo.Placement
	PermissionIDs *[]int64
}

// UpdateUser edits a user on behalf of actorID, re-running the rank and
// scope guard against the updated state.
func (s *Service) UpdateUser(ctx context.Context, actorID, targetID int64, in UpdateUserInput) (*User, error) {
	actor, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return nil, err
	}
	targetRole, err := s.store.Roles().Find(ctx, target.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role %d: %w", target.RoleID, err)
	}
	if err := EnsureCanAccess(actor, actorRole, target, targetRole, AccessEdit); err != nil {
		return nil, err
	}
	if inBranch, err := contains(actor, actorRole, target); err != nil {
		return nil, err
	} else if !inBranch {
		return nil, ErrNotFound
	}

	if in.RoleID != nil && *in.RoleID != target.RoleID {
		newRole, err := s.store.Roles().Find(ctx, *in.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown role %d", ErrInvalidInput, *in.RoleID)
			}
			return nil, err
		}
		if !Creatable(actorRole, newRole) {
			return nil, fmt.Errorf("%w: %s may not assign %s", ErrRoleEscalation, actorRole.Name, newRole.Name)
		}
		target.RoleID = newRole.ID
		targetRole = newRole
	}

	if in.Placement != nil || in.RoleID != nil {
		requested := target.Placement
		if in.Placement != nil {
			requested = *in.Placement
		}
		placement, err := s.placementFor(ctx, actor, actorRole, targetRole, requested)
		if err != nil {
			return nil, err
		}
		target.Placement = placement
	}

	if in.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		target.Email = email
	}
	if in.Password != nil {
		if strings.TrimSpace(*in.Password) == "" {
			return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		target.PasswordHash = hash
	}

	var (
		grants  []int64
		replace bool
	)
	if in.PermissionIDs != nil {
		if !targetRole.Restricted() {
			return nil, fmt.Errorf("%w: role %q takes no user-level grants", ErrInvalidInput, targetRole.Name)
		}
		grants = *in.PermissionIDs
		replace = true
	}
	if err := s.store.Users().Update(ctx, target, grants, replace); err != nil {
		return nil, err
	}
	return target, nil
}

// DeleteUser soft-deletes a user and revokes all of its refresh tokens so
// issued sessions die with the account. Self-deletion is always rejected.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID int64) error {
	actor, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return err
	}
	targetRole, err := s.store.Roles().Find(ctx, target.RoleID)
	if err != nil {
		return fmt.Errorf("load role %d: %w", target.RoleID, err)
	}
	if err := EnsureCanAccess(actor, actorRole, target, targetRole, AccessDelete); err != nil {
		return err
	}
	if inBranch, err := contains(actor, actorRole, target); err != nil {
		return err
	} else if !inBranch {
		return ErrNotFound
	}
	return s.store.Users().SoftDelete(ctx, targetID, s.now().UTC())
}

// GetUser returns a user visible to the actor: in-branch, not deleted.
func (s *Service) GetUser(ctx context.Context, actorID, targetID int64) (*User, error) {
	actor, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Deleted() {
		return nil, ErrNotFound
	}
	if inBranch, err := contains(actor, actorRole, target); err != nil {
		return nil, err
	} else if !inBranch {
		return nil, ErrNotFound
	}
	return target, nil
}

// ListUsersInput narrows a listing; RoleID must be manageable by the actor.
type ListUsersInput struct {
	RoleID *int64
}

// ListUsers returns users the actor may manage: roles at the actor's level
// or weaker, always fenced to the actor's own branch. The fence is
// mandatory: an actor without their own placement id is a configuration
// fault, not an unrestricted viewer.
func (s *Service) ListUsers(ctx context.Context, actorID int64, in ListUsersInput) ([]*User, error) {
	actor, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	roles, err := s.store.Roles().List(ctx)
	if err != nil {
		return nil, err
	}
	var roleIDs []int64
	for _, r := range ManageableRoles(actorRole, roles) {
		if in.RoleID != nil && r.ID != *in.RoleID {
			continue
		}
		roleIDs = append(roleIDs, r.ID)
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}

	fence, err := branchFence(actor, actorRole)
	if err != nil {
		return nil, err
	}
	return s.store.Users().List(ctx, UserFilter{RoleIDs: roleIDs, Fence: fence})
}

// SetRolePermissions replaces a role's permission ceiling wholesale. Only an
// actor strictly stronger than the role (or the top role) may edit it.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	_, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	targetRole, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if !actorRole.Top() && !Outranks(actorRole, targetRole) {
		return fmt.Errorf("%w: %s may not edit %s", ErrRankViolation, actorRole.Name, targetRole.Name)
	}
	return s.store.Permissions().SetForRole(ctx, roleID, permissionIDs)
}

// SetUserPermissions replaces a restricted user's individual grants
// wholesale.
func (s *Service) SetUserPermissions(ctx context.Context, actorID, targetID int64, permissionIDs []int64) error {
	actor, actorRole, err := s.actor(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := s.store.Users().Find(ctx, targetID)
	if err != nil {
		return err
	}
	targetRole, err := s.store.Roles().Find(ctx, target.RoleID)
	if err != nil {
		return fmt.Errorf("load role %d: %w", target.RoleID, err)
	}
	if err := EnsureCanAccess(actor, actorRole, target, targetRole, AccessEdit); err != nil {
		return err
	}
	if inBranch, err := contains(actor, actorRole, target); err != nil {
		return err
	} else if !inBranch {
		return ErrNotFound
	}
	if !targetRole.Restricted() {
		return fmt.Errorf("%w: role %q takes no user-level grants", ErrInvalidInput, targetRole.Name)
	}
	return s.store.Permissions().SetForUser(ctx, targetID, permissionIDs)
}
