// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import "strings"

// # User Roles

// UserRole represents the authorization level granted to an account.
type UserRole string

const (
	// Back-office access, including forced logout of other users
	RoleAdmin UserRole = "ADMIN"

	// Staff members who manage bookings
	RoleEmployee UserRole = "EMPLOYEE"

	// Default role for people booking services
	RoleCustomer UserRole = "CUSTOMER"
)

// ParseRole maps a stored role string to a known role.
func ParseRole(value string) (UserRole, bool) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(value)))
	return role, role.level() > 0
}

// Audience is the JWT aud value for the role.
func (r UserRole) Audience() string {
	return strings.ToLower(string(r))
}

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r UserRole) AtLeast(target UserRole) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r UserRole) level() int {

	// Linear scale leaves room for intermediate roles
	switch r {
	case RoleAdmin:
		return 30
	case RoleEmployee:
		return 20
	case RoleCustomer:
		return 10
	default:
		return 0
	}
}
