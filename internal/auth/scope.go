package auth

// AccessScope decides, per request, whether the caller sees all tenant data
// or only self-owned records. Elevation comes from the platform-operator
// system role or the employee.manage grant; everyone else is scoped to rows
// reachable through their own lead assignments.
type AccessScope struct {
	userID   string
	elevated bool
}

// ScopeFromClaims derives the caller's data-visibility scope from verified
// access claims.
func ScopeFromClaims(claims *Claims) AccessScope {
	if claims == nil {
		return AccessScope{}
	}
	return AccessScope{
		userID:   claims.UserID,
		elevated: claims.SystemRole == SystemRoleAdmin || claims.HasPermission(PermEmployeeManage),
	}
}

// Elevated reports whether the caller may see all tenant data.
func (s AccessScope) Elevated() bool { return s.elevated }

// ScopedUserID returns the owner filter repositories must apply: empty for
// elevated callers, the caller's own user id otherwise.
func (s AccessScope) ScopedUserID() string {
	if s.elevated {
		return ""
	}
	return s.userID
}
