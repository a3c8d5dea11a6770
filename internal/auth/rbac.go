package auth

import "strings"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
	RoleViewer  Role = "viewer"
)

func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RoleAdmin):
		return RoleAdmin
	case string(RoleManager):
		return RoleManager
	case string(RoleAgent):
		return RoleAgent
	case string(RoleViewer):
		return RoleViewer
	default:
		return RoleViewer
	}
}

func HasRole(role string, allowed ...Role) bool {
	if len(allowed) == 0 {
		return false
	}
	current := NormalizeRole(role)
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}

func IsAdmin(role string) bool {
	return NormalizeRole(role) == RoleAdmin
}

// CanManageLeads reports whether the role may create, update, or assign leads.
func CanManageLeads(role string) bool {
	return HasRole(role, RoleAdmin, RoleManager, RoleAgent)
}
