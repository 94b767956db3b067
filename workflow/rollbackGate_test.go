package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
)

// Each precondition of the rollback gate must reject with its own sentinel,
// and a rejected call must leave the store untouched.

func gateStore() *fakeRollbackStore {
	f := seedStore()
	f.profiles[2] = &models.Profile{ID: 2, OrganizationId: "org-a", Name: "Staff", Role: models.ProfileRoleStaff}
	f.profiles[3] = &models.Profile{ID: 3, OrganizationId: "org-b", Name: "Other Admin", Role: models.ProfileRoleAdmin}
	f.addEntity(models.ImportEntityTypeMember, 100, fakeEntityRow{})
	f.addInsertSnapshot(10, 1, 100)
	return f
}

func assertRejected(t *testing.T, f *fakeRollbackStore, caller CallerIdentity, jobId int, want error) {
	t.Helper()
	result, err := RollbackImport(context.Background(), f, nil, caller, jobId)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if result != nil {
		t.Fatalf("rejected call returned a result: %+v", result)
	}
	if f.beginCalls != 0 {
		t.Fatal("rejected call attempted to claim the job")
	}
	if len(f.reversedOrder) != 0 {
		t.Fatal("rejected call reversed snapshots")
	}
	if len(f.auditEntries) != 0 {
		t.Fatal("rejected call wrote audit entries")
	}
}

func TestRollbackGate_Unauthenticated(t *testing.T) {
	f := gateStore()
	assertRejected(t, f, CallerIdentity{}, 10, ErrUnauthenticated)
}

func TestRollbackGate_ProfileNotFound(t *testing.T) {
	f := gateStore()
	caller := adminCaller()
	caller.UserID = 99
	assertRejected(t, f, caller, 10, ErrProfileNotFound)
}

func TestRollbackGate_StaffForbidden(t *testing.T) {
	f := gateStore()
	caller := CallerIdentity{UserID: 2, UserName: "Staff", OrganizationId: "org-a", Role: models.ProfileRoleStaff}
	assertRejected(t, f, caller, 10, ErrRollbackForbidden)
}

func TestRollbackGate_RoleCheckedFromProfileNotToken(t *testing.T) {
	f := gateStore()
	// A forged token claiming admin must lose against the stored role.
	caller := CallerIdentity{UserID: 2, UserName: "Staff", OrganizationId: "org-a", Role: models.ProfileRoleAdmin}
	assertRejected(t, f, caller, 10, ErrRollbackForbidden)
}

func TestRollbackGate_JobNotFound(t *testing.T) {
	f := gateStore()
	assertRejected(t, f, adminCaller(), 999, ErrJobNotFound)
}

func TestRollbackGate_CrossTenantForbiddenEvenForAdmins(t *testing.T) {
	f := gateStore()
	caller := CallerIdentity{UserID: 3, UserName: "Other Admin", OrganizationId: "org-b", Role: models.ProfileRoleAdmin}
	assertRejected(t, f, caller, 10, ErrCrossTenant)
}

func TestRollbackGate_CanRollbackFalse(t *testing.T) {
	f := gateStore()
	f.jobs[10].CanRollback = utils.NewFalse()
	assertRejected(t, f, adminCaller(), 10, ErrCannotRollback)
}

func TestRollbackGate_AlreadyAttempted(t *testing.T) {
	for _, status := range []models.RollbackStatus{
		models.RollbackStatusPending,
		models.RollbackStatusInProgress,
		models.RollbackStatusCompleted,
		models.RollbackStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := gateStore()
			s := status
			f.jobs[10].RollbackStatus = &s
			assertRejected(t, f, adminCaller(), 10, ErrRollbackConflict)
		})
	}
}

func TestRollbackGate_PreconditionOrder(t *testing.T) {
	// A job that fails several preconditions at once must report the
	// earliest one: cross-tenant before eligibility, eligibility before
	// conflict.
	f := gateStore()
	f.jobs[10].CanRollback = utils.NewFalse()
	s := models.RollbackStatusCompleted
	f.jobs[10].RollbackStatus = &s

	caller := CallerIdentity{UserID: 3, UserName: "Other Admin", OrganizationId: "org-b", Role: models.ProfileRoleAdmin}
	assertRejected(t, f, caller, 10, ErrCrossTenant)

	// Same tenant resolves the next unmet precondition.
	result, err := RollbackImport(context.Background(), f, nil, adminCaller(), 10)
	if !errors.Is(err, ErrCannotRollback) || result != nil {
		t.Fatalf("err = %v, want ErrCannotRollback", err)
	}
}

func TestRollbackGate_SuccessMessage(t *testing.T) {
	f := gateStore()
	result, err := RollbackImport(context.Background(), f, nil, adminCaller(), 10)
	if err != nil {
		t.Fatalf("RollbackImport: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Message != "Rollback completed: 1 of 1 rows reverted" {
		t.Fatalf("message = %q", result.Message)
	}
}
