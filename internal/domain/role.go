package domain

import (
	"fmt"
	"strings"
)

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleStudent   Role = "student"
	RoleEmployee  Role = "employee"
	RoleMessStaff Role = "mess_staff"
	RoleHOD       Role = "hod"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleEmployee, RoleMessStaff, RoleHOD, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role may act on other users' records.
func (r Role) IsStaff() bool {
	return r == RoleMessStaff || r == RoleHOD || r == RoleAdmin
}

// ParseRole normalises a role string.
func ParseRole(value string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return r, nil
}

// OffenseCounter tracks disqualifying events for a single month key (YYYY-MM).
type OffenseCounter struct {
	Month string
	Count int
}

// User is the local projection of an identity-provider account.
type User struct {
	ID      string
	Role    Role
	Offense OffenseCounter
}
