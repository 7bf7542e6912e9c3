package server

import "strings"

// Role names accepted on API requests.
const (
	RoleOperator   = "operator"
	RoleReviewer   = "reviewer"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// roleActions maps each role to the mutating actions it may perform. Reads
// are unrestricted. Admin is a wildcard.
var roleActions = map[string]map[string]bool{
	RoleOperator:   {"claim": true, "done": true, "fail": true, "note": true},
	RoleReviewer:   {},
	RoleSupervisor: {"reset": true, "closeout_l2": true},
	RoleAdmin:      {"*": true},
}

// RoleAllows reports whether role may perform action. Unknown roles allow
// nothing.
func RoleAllows(role, action string) bool {
	allowed, ok := roleActions[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return false
	}
	return allowed["*"] || allowed[action]
}
