package rbac

import (
	"fmt"
	"strings"

	"github.com/unidesk/unidesk/internal/shared"
)

// PermissionKey is the (resource, action) natural key of a permission.
type PermissionKey struct {
	Resource string
	Action   string
}

// Key builds a PermissionKey.
func Key(resource, action string) PermissionKey {
	return PermissionKey{Resource: resource, Action: action}
}

// ParsePermissionKey parses the "resource.action" wire form. Exactly two non-empty
// segments are accepted; matching stays case-sensitive so no normalisation happens.
func ParsePermissionKey(raw string) (PermissionKey, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return PermissionKey{}, shared.Reject(shared.ErrInvalid, "Invalid permission format", map[string]any{"permission": raw})
	}
	for _, part := range parts {
		if strings.TrimSpace(part) != part {
			return PermissionKey{}, shared.Reject(shared.ErrInvalid, "Invalid permission format", map[string]any{"permission": raw})
		}
	}
	return PermissionKey{Resource: parts[0], Action: parts[1]}, nil
}

// MustParsePermissionKey panics on malformed input; for package-level constants only.
func MustParsePermissionKey(raw string) PermissionKey {
	key, err := ParsePermissionKey(raw)
	if err != nil {
		panic(fmt.Sprintf("rbac: %q: %v", raw, err))
	}
	return key
}

// String returns the "resource.action" wire form.
func (k PermissionKey) String() string {
	return k.Resource + "." + k.Action
}

// Valid reports whether both segments are present and dot free.
func (k PermissionKey) Valid() bool {
	return k.Resource != "" && k.Action != "" &&
		!strings.Contains(k.Resource, ".") && !strings.Contains(k.Action, ".")
}

// Catalog permissions.
var (
	PermUsersManageRoles = Key("users", "manage_roles")
	PermUsersView        = Key("users", "view")
	PermRolesView        = Key("roles", "view")
	PermPermissionsView  = Key("permissions", "view")
	PermRequestsView     = Key("requests", "view")
	PermRequestsCreate   = Key("requests", "create")
	PermRequestsRespond  = Key("requests", "respond")
	PermAuditView        = Key("audit", "view")

	// SuperAdminKey names decisions that required super-admin status rather than a grant.
	SuperAdminKey = Key("system", "super_admin")
)
