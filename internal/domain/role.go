package domain

import (
	"slices"
	"strings"
)

// Role identifies the authorization level of a caller.
type Role string

// Role values.
const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// validRoles stores supported roles.
var validRoles = []Role{RoleAdmin, RoleEditor, RoleViewer}

// NormalizeRole canonicalizes role values.
func NormalizeRole(role Role) Role {
	return Role(strings.TrimSpace(strings.ToLower(string(role))))
}

// IsValidRole reports whether a role value is supported.
func IsValidRole(role Role) bool {
	return slices.Contains(validRoles, NormalizeRole(role))
}

// CanEdit reports whether the role may create, move, or update items.
func (r Role) CanEdit() bool {
	switch NormalizeRole(r) {
	case RoleAdmin, RoleEditor:
		return true
	default:
		return false
	}
}

// CanReview reports whether the role may approve or reject items.
func (r Role) CanReview() bool {
	return NormalizeRole(r) == RoleAdmin
}
