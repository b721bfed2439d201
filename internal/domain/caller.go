package domain

// Permission is an action a role may grant.
type Permission string

const (
	PermissionCreate Permission = "create"
	PermissionRead   Permission = "read"
	PermissionUpdate Permission = "update"
	PermissionDelete Permission = "delete"
)

// rolePermissions maps platform roles to the permissions they grant.
var rolePermissions = map[string][]Permission{
	"owner":     {PermissionCreate, PermissionRead, PermissionUpdate, PermissionDelete},
	"admin":     {PermissionCreate, PermissionRead, PermissionUpdate, PermissionDelete},
	"operator":  {PermissionRead, PermissionUpdate},
	"read_only": {PermissionRead},
}

// Caller is the authenticated principal of a request.
type Caller struct {
	// Identity is informational (usually an email) and is written to the
	// owner tag of created stacks.
	Identity string `json:"identity"`

	// Group is the tenant group. It is the only authorization boundary for
	// stacks.
	Group string `json:"group"`

	Roles []string `json:"roles,omitempty"`
}

// Can reports whether any of the caller's roles grants p. Unknown roles
// grant nothing.
func (c *Caller) Can(p Permission) bool {
	for _, role := range c.Roles {
		for _, granted := range rolePermissions[role] {
			if granted == p {
				return true
			}
		}
	}
	return false
}
