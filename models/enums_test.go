package models

import "testing"

func TestRollbackStatusIsTerminal(t *testing.T) {
	terminal := map[RollbackStatus]bool{
		RollbackStatusPending:    false,
		RollbackStatusInProgress: false,
		RollbackStatusCompleted:  true,
		RollbackStatusFailed:     true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestProfileRoleCanManageImports(t *testing.T) {
	allowed := map[ProfileRole]bool{
		ProfileRoleOwner:   true,
		ProfileRoleAdmin:   true,
		ProfileRoleAdvisor: false,
		ProfileRoleStaff:   false,
	}
	for role, want := range allowed {
		if got := role.CanManageImports(); got != want {
			t.Errorf("%s.CanManageImports() = %v, want %v", role, got, want)
		}
	}
}
