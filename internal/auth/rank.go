package auth

// Rank primitives. Hierarchy levels grow downward: a smaller level is a
// stronger role.

// Outranks reports whether a is strictly stronger than b.
func Outranks(a, b *Role) bool {
	return a.HierarchyLevel < b.HierarchyLevel
}

// OutranksOrEqual reports whether a is at least as strong as b.
func OutranksOrEqual(a, b *Role) bool {
	return a.HierarchyLevel <= b.HierarchyLevel
}

// Creatable reports whether creator may assign target to a new or edited
// user: target must be strictly weaker and never the top role.
func Creatable(creator, target *Role) bool {
	return !target.Top() && target.HierarchyLevel > creator.HierarchyLevel
}

// CreatableRoles returns every role the creator may assign.
func CreatableRoles(creator *Role, all []*Role) []*Role {
	out := make([]*Role, 0, len(all))
	for _, r := range all {
		if Creatable(creator, r) {
			out = append(out, r)
		}
	}
	return out
}

// Manageable reports whether actor may see users holding target in listings:
// target is at the actor's own level or weaker.
func Manageable(actor, target *Role) bool {
	return target.HierarchyLevel >= actor.HierarchyLevel
}

// ManageableRoles returns every role whose holders the actor may list.
func ManageableRoles(actor *Role, all []*Role) []*Role {
	out := make([]*Role, 0, len(all))
	for _, r := range all {
		if Manageable(actor, r) {
			out = append(out, r)
		}
	}
	return out
}

// AccessAction is the operation checked by EnsureCanAccess.
type AccessAction string

const (
	AccessView   AccessAction = "view"
	AccessEdit   AccessAction = "edit"
	AccessDelete AccessAction = "delete"
)

// EnsureCanAccess is the accessor guard applied before any read or mutation
// of a target user. Self-deletion is rejected before anything else, top roles
// included; a deleted target is inaccessible; edit and delete additionally
// require the actor to be at least as strong as the target.
func EnsureCanAccess(actor *User, actorRole *Role, target *User, targetRole *Role, action AccessAction) error {
	if action == AccessDelete && actor.ID == target.ID {
		return ErrSelfDeletion
	}
	if target.Deleted() {
		if action == AccessDelete {
			return ErrAlreadyDeleted
		}
		return ErrNotFound
	}
	if actorRole.Top() {
		return nil
	}
	if action == AccessEdit || action == AccessDelete {
		if !OutranksOrEqual(actorRole, targetRole) {
			return ErrRankViolation
		}
	}
	return nil
}
