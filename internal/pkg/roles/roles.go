// Package roles resolves user roles. The default provider keeps the
// historical single-admin scheme (user id 1) behind an interface so a real
// roles table can be plugged in without touching the security pipeline.
package roles

// Role is the access level of a user.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

// Provider resolves the role for a user id.
type Provider interface {
	RoleOf(userID uint) Role
}

// FirstUserProvider grants admin to the first registered user only.
type FirstUserProvider struct{}

func (FirstUserProvider) RoleOf(userID uint) Role {
	if userID == 1 {
		return RoleAdmin
	}
	return RoleUser
}

// IsAdmin is a convenience wrapper around a Provider.
func IsAdmin(p Provider, userID uint) bool {
	return p != nil && p.RoleOf(userID) == RoleAdmin
}
