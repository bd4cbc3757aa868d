// Package audit emits structured audit entries for security-relevant
// operations: session lifecycle and user or permission mutations. Entries
// ride the normal log stream tagged type=audit; request and user identifiers
// come in from the context.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"fieldadmin.org/internal/obs"
)

// Event names used across the service.
const (
	EventLogin           = "auth.login"
	EventLoginFailed     = "auth.login.failed"
	EventRefresh         = "auth.refresh"
	EventLogout          = "auth.logout"
	EventUserCreate      = "user.create"
	EventUserUpdate      = "user.update"
	EventUserDelete      = "user.delete"
	EventRolePermsUpdate = "role.permissions.update"
	EventUserPermsUpdate = "user.permissions.update"
)

// LogEvent writes one audit entry. Field order is stable so entries diff
// cleanly in log storage.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, 2+len(keys))
	attrs = append(attrs, slog.String("type", "audit"), slog.String("event", event))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	obs.Logger().InfoContext(ctx, "audit", attrs...)
	return nil
}
