package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Resolve computes the effective module→actions map for a user. Unrestricted
// roles get their ceiling verbatim. Restricted roles (name suffix "_user")
// get the per-module intersection of the ceiling with the user's flat grant
// set; modules whose intersection empties out are dropped.
//
// A restricted role with zero grants falls back to the full ceiling
// (the historical behavior) unless the service was built with strict empty
// grants, in which case it resolves to no permissions at all.
func (s *Service) Resolve(ctx context.Context, roleID int64, roleName string, userID int64) (map[string][]Action, []Action, error) {
	ceiling, err := s.store.Permissions().ByRole(ctx, roleID)
	if err != nil {
		return nil, nil, fmt.Errorf("load role permissions: %w", err)
	}
	if !strings.HasSuffix(roleName, RestrictedSuffix) {
		return ceiling, nil, nil
	}

	granted, err := s.store.Permissions().UserActions(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user actions: %w", err)
	}
	if len(granted) == 0 {
		if s.strictEmptyGrants {
			return map[string][]Action{}, nil, nil
		}
		return ceiling, nil, nil
	}

	grantSet := make(map[Action]struct{}, len(granted))
	for _, a := range granted {
		grantSet[a] = struct{}{}
	}

	effective := make(map[string][]Action, len(ceiling))
	for module, actions := range ceiling {
		var kept []Action
		for _, a := range actions {
			if _, ok := grantSet[a]; ok {
				kept = append(kept, a)
			}
		}
		if len(kept) > 0 {
			sortActions(kept)
			effective[module] = kept
		}
	}
	return effective, sortedActions(grantSet), nil
}

func sortActions(actions []Action) {
	sort.Slice(actions, func(i, j int) bool {
		return actionRank[actions[i]] < actionRank[actions[j]]
	})
}

func sortedActions(set map[Action]struct{}) []Action {
	out := make([]Action, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sortActions(out)
	return out
}
