package rbac

import (
	"time"

	"github.com/warden-admin/warden/internal/shared"
)

// Role groups catalog permissions under a unique name.
type Role struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Permissions []shared.Permission `json:"permissions"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Subject is the minimal view of a user needed to evaluate access.
type Subject struct {
	ID       int64
	Username string
}

// Decision results reported to the DecisionRecorder.
const (
	ResultAllow           = "allow"
	ResultDeny            = "deny"
	ResultUnauthenticated = "unauthenticated"
	ResultError           = "error"
)

func cloneRole(r Role) Role {
	perms := make([]shared.Permission, len(r.Permissions))
	copy(perms, r.Permissions)
	r.Permissions = perms
	return r
}
