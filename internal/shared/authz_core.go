package shared

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is an atomic capability drawn from the fixed catalog.
type Permission string

// Catalog permissions. The mixed separators match the keys used by the console.
const (
	PermBlogRead   Permission = "blog_read"
	PermBlogCreate Permission = "blog_create"
	PermBlogEdit   Permission = "blog-edit"
	PermBlogDelete Permission = "blog-delete"

	PermUserRead   Permission = "user_read"
	PermUserCreate Permission = "user_create"
	PermUserDelete Permission = "user_delete"
	PermUserEdit   Permission = "user-edit"

	PermRoleRead   Permission = "role_read"
	PermRoleCreate Permission = "role_create"
	PermRoleDelete Permission = "role_delete"
	PermRoleEdit   Permission = "role-edit"

	PermUserRoleCreate Permission = "user-role_create"
	PermUserRoleDelete Permission = "user-role_delete"
)

var catalog = []Permission{
	PermBlogRead,
	PermBlogCreate,
	PermBlogEdit,
	PermBlogDelete,
	PermUserRead,
	PermUserCreate,
	PermUserDelete,
	PermUserEdit,
	PermRoleRead,
	PermRoleCreate,
	PermRoleDelete,
	PermRoleEdit,
	PermUserRoleCreate,
	PermUserRoleDelete,
}

// catalogIndex is built once at init and only read afterwards.
var catalogIndex = func() map[Permission]struct{} {
	idx := make(map[Permission]struct{}, len(catalog))
	for _, p := range catalog {
		idx[p] = struct{}{}
	}
	return idx
}()

// Catalog lists every known permission in declaration order.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// IsKnown reports whether p belongs to the catalog.
func (p Permission) IsKnown() bool {
	_, ok := catalogIndex[p]
	return ok
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermissions validates raw keys against the catalog and returns a sorted,
// de-duplicated set. Surrounding whitespace is ignored.
func ParsePermissions(raw []string) ([]Permission, error) {
	seen := make(map[Permission]struct{}, len(raw))
	out := make([]Permission, 0, len(raw))
	for _, r := range raw {
		p := Permission(strings.TrimSpace(r))
		if !p.IsKnown() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, r)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	SortPermissions(out)
	return out, nil
}

// SortPermissions orders permissions lexically in place.
func SortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}
