package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermTargetsRead, true},
		{RoleViewer, PermSelectionWrite, false},
		{RoleViewer, PermTargetLaunch, false},
		{RoleOperator, PermSelectionWrite, true},
		{RoleOperator, PermTargetLaunch, true},
		{RoleOperator, PermRunConfigManage, false},
		{RoleAdmin, PermRunConfigManage, true},
		{RoleOperator, PermAuditRead, false},
		{RoleAdmin, PermAuditRead, true},
		{Role("unknown"), PermTargetsRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestRolesAreCumulative(t *testing.T) {
	for i := 1; i < len(ValidRoles); i++ {
		lower, higher := ValidRoles[i-1], ValidRoles[i]
		for _, p := range PermissionsForRole(lower) {
			if !HasPermission(higher, p) {
				t.Errorf("%s has %s but %s does not", lower, p, higher)
			}
		}
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	perms[0] = "mutated"
	if PermissionsForRole(RoleAdmin)[0] == "mutated" {
		t.Error("PermissionsForRole() exposes internal slice")
	}
	if PermissionsForRole(Role("unknown")) != nil {
		t.Error("PermissionsForRole(unknown) != nil")
	}
}
