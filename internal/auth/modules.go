package auth

import (
	"context"
	"fmt"
)

// Module capability codes. The set is closed: the catalog may not contain a
// code missing here, and every code here must be present in the catalog.
const (
	ModuleReports   = "reports"
	ModuleUserScope = "user_scope"
	ModuleGeography = "geography"
	ModuleForms     = "forms"
)

// ModuleCodes lists every known module capability tag.
var ModuleCodes = []string{ModuleReports, ModuleUserScope, ModuleGeography, ModuleForms}

var knownModules = func() map[string]struct{} {
	m := make(map[string]struct{}, len(ModuleCodes))
	for _, c := range ModuleCodes {
		m[c] = struct{}{}
	}
	return m
}()

// KnownModule reports whether code is part of the closed registry.
func KnownModule(code string) bool {
	_, ok := knownModules[code]
	return ok
}

// ValidateModules cross-checks the enumerated registry against the permission
// catalog at startup. Run once before serving; a mismatch means the schema
// and the binary disagree.
func ValidateModules(ctx context.Context, store PermissionStore) error {
	codes, err := store.ModuleCodes(ctx)
	if err != nil {
		return fmt.Errorf("load module codes: %w", err)
	}
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if !KnownModule(code) {
			return fmt.Errorf("auth: catalog contains unknown module %q", code)
		}
		seen[code] = struct{}{}
	}
	for _, code := range ModuleCodes {
		if _, ok := seen[code]; !ok {
			return fmt.Errorf("auth: module %q missing from catalog", code)
		}
	}
	return nil
}
