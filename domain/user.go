// Package domain contains core concepts of the support platform.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// IsStaff reports whether the role may handle any conversation.
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Identity is the immutable snapshot of a user bound to one connection.
// Role changes elsewhere require a reconnect to take effect.
type Identity struct {
	UserID      string
	DisplayName string
	Role        Role
}

// User is the stored account record consulted at connect time.
type User struct {
	ID          string
	DisplayName string
	Role        Role
	Active      bool
	Blocked     bool
	CreatedAt   time.Time
}

// Snapshot freezes the account into the per-connection identity.
func (u User) Snapshot() Identity {
	return Identity{UserID: u.ID, DisplayName: u.DisplayName, Role: u.Role}
}
