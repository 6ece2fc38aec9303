package identity

import "testing"

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleCustomer, RoleInspector, RoleAdmin} {
		if !ValidRole(role) {
			t.Errorf("ValidRole(%q) = false", role)
		}
	}
	for _, role := range []string{"", "superuser", "Inspector"} {
		if ValidRole(role) {
			t.Errorf("ValidRole(%q) = true", role)
		}
	}
}
