// Package identity resolves chat senders to application users keyed by phone number.
package identity

import "time"

// User roles. Users are created as customers; inspectors and admins are
// promoted through the admin API.
const (
	RoleCustomer  = "customer"
	RoleInspector = "inspector"
	RoleAdmin     = "admin"
)

// User is an application user reachable over a chat channel.
type User struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ValidRole reports whether role is one of the known user roles.
func ValidRole(role string) bool {
	switch role {
	case RoleCustomer, RoleInspector, RoleAdmin:
		return true
	}
	return false
}
