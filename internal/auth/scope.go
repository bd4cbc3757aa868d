package auth

import (
	"context"
	"fmt"

	"fieldadmin.org/internal/geo"
)

// Geographic scope fencing. One generic routine walks the tier table instead
// of a switch per role: for a creator pinned at tier T with id X, every
// target id at tier T or below must resolve through its own stored parent
// chain back to X.

// inheritPlacement builds the placement a non-top creator is allowed to
// request: every field at or above the creator's tier comes verbatim from
// the creator, only fields below it come from the request. The creator
// missing its own placement id is a data-integrity fault, never a wildcard.
func inheritPlacement(creator *User, creatorTier geo.Tier, requested geo.Placement) (geo.Placement, error) {
	if creator.Placement.At(creatorTier) == nil {
		return geo.Placement{}, fmt.Errorf("%w: %s id for user %d", ErrMissingPlacement, creatorTier, creator.ID)
	}
	var out geo.Placement
	for _, t := range geo.Tiers {
		if t <= creatorTier {
			if v := creator.Placement.At(t); v != nil {
				out.Set(t, *v)
			}
		} else if v := requested.At(t); v != nil {
			out.Set(t, *v)
		}
	}
	return out, nil
}

// ensureContained verifies that every present id at or below the creator's
// tier belongs to the creator's branch. Each tier below T costs one
// parent-chain walk through the hierarchy store. A dangling id fails as an
// invalid reference; a mismatched or underivable ancestor fails as out of
// scope.
func (s *Service) ensureContained(ctx context.Context, creatorTier geo.Tier, creatorID int64, p geo.Placement) error {
	for t := creatorTier; t <= geo.TierUnit; t++ {
		idp := p.At(t)
		if idp == nil {
			continue
		}
		if t == creatorTier {
			if *idp != creatorID {
				return fmt.Errorf("%w: %s %d", ErrOutOfScope, t, *idp)
			}
			continue
		}
		anc, ok, err := s.geo.Ancestors(ctx, t, *idp)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %d", ErrInvalidReference, t, *idp)
		}
		at := anc.At(creatorTier)
		if at == nil || *at != creatorID {
			return fmt.Errorf("%w: %s %d", ErrOutOfScope, t, *idp)
		}
	}
	return nil
}

// ensureExists verifies every present id of the placement against the
// hierarchy store. Only the top role takes this path; everyone else gets
// existence checking for free from the containment walk.
func (s *Service) ensureExists(ctx context.Context, p geo.Placement) error {
	for _, t := range geo.Tiers {
		idp := p.At(t)
		if idp == nil {
			continue
		}
		_, ok, err := s.geo.Ancestors(ctx, t, *idp)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %d", ErrInvalidReference, t, *idp)
		}
	}
	return nil
}

// placementFor computes and validates the final placement of a target user:
// inheritance, derivation of missing ancestors, scope containment, and
// normalization to the target role's tier (ancestors set, deeper tiers
// cleared).
func (s *Service) placementFor(ctx context.Context, actor *User, actorRole, targetRole *Role, requested geo.Placement) (geo.Placement, error) {
	var (
		p   geo.Placement
		err error
	)
	if actorRole.Top() {
		if p, err = s.geo.Derive(ctx, requested); err != nil {
			return geo.Placement{}, err
		}
		if err = s.ensureExists(ctx, p); err != nil {
			return geo.Placement{}, err
		}
	} else {
		tier, ok := actorRole.Tier()
		if !ok {
			return geo.Placement{}, fmt.Errorf("%w: role %q has no tier", ErrMissingPlacement, actorRole.Name)
		}
		if p, err = inheritPlacement(actor, tier, requested); err != nil {
			return geo.Placement{}, err
		}
		if p, err = s.geo.Derive(ctx, p); err != nil {
			return geo.Placement{}, err
		}
		if err = s.ensureContained(ctx, tier, *actor.Placement.At(tier), p); err != nil {
			return geo.Placement{}, err
		}
	}

	targetTier, ok := targetRole.Tier()
	if !ok {
		// Top-role users carry no placement.
		return geo.Placement{}, nil
	}
	if p.At(targetTier) == nil {
		return geo.Placement{}, fmt.Errorf("%w: %s id is required for role %q", ErrInvalidInput, targetTier, targetRole.Name)
	}
	for t := targetTier + 1; t <= geo.TierUnit; t++ {
		p.Clear(t)
	}
	return p, nil
}

// branchFence returns the mandatory own-branch listing fence for the actor,
// or nil for the top role.
func branchFence(actor *User, actorRole *Role) (*Fence, error) {
	if actorRole.Top() {
		return nil, nil
	}
	tier, ok := actorRole.Tier()
	if !ok {
		return nil, fmt.Errorf("%w: role %q has no tier", ErrMissingPlacement, actorRole.Name)
	}
	idp := actor.Placement.At(tier)
	if idp == nil {
		return nil, fmt.Errorf("%w: %s id for user %d", ErrMissingPlacement, tier, actor.ID)
	}
	return &Fence{Tier: tier, ID: *idp}, nil
}

// contains reports whether the target's stored placement lies in the actor's
// branch, using the stored ancestor fields directly (user rows keep their
// ancestors consistent). An actor missing its own tier id is a
// data-integrity fault, not an empty branch.
func contains(actor *User, actorRole *Role, target *User) (bool, error) {
	if actorRole.Top() {
		return true, nil
	}
	tier, ok := actorRole.Tier()
	if !ok {
		return false, fmt.Errorf("%w: role %q has no tier", ErrMissingPlacement, actorRole.Name)
	}
	own := actor.Placement.At(tier)
	if own == nil {
		return false, fmt.Errorf("%w: %s id for user %d", ErrMissingPlacement, tier, actor.ID)
	}
	got := target.Placement.At(tier)
	return got != nil && *got == *own, nil
}
