package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
	"github.com/sirupsen/logrus"
)

// Gate-level rejections. Each precondition short-circuits with its own
// sentinel so callers can map them onto distinct HTTP statuses.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrRollbackForbidden = errors.New("only admins can rollback imports")
	ErrCrossTenant       = errors.New("cannot access an import owned by another organization")
	ErrJobNotFound       = errors.New("import job not found")
	ErrCannotRollback    = errors.New("this import cannot be rolled back")
	ErrRollbackConflict  = errors.New("rollback already attempted")
)

// CallerIdentity is the authenticated caller, passed explicitly so the gate
// is testable without a request context.
type CallerIdentity struct {
	UserID         int
	UserName       string
	OrganizationId string
	Role           models.ProfileRole
}

// RollbackResult is what the UI trigger receives. Partial failure reports
// Success=false with a descriptive message, never an error: the operation
// made forward progress and the job's counters say exactly what succeeded.
type RollbackResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	RolledBackCount int    `json:"rolled_back_count"`
	FailedCount     int    `json:"failed_count"`
}

// RollbackImport is the single public entry point for rollback. It validates
// authorization and job eligibility in order, each precondition
// short-circuiting with a distinct failure, then delegates to the
// orchestrator. It performs no side effects of its own.
func RollbackImport(ctx context.Context, store RollbackStore, logger *logrus.Logger, caller CallerIdentity, jobId int) (*RollbackResult, error) {
	// 1. Caller must be authenticated.
	if caller.UserID == 0 {
		return nil, ErrUnauthenticated
	}

	// 2. The stored profile must resolve; role and tenancy are re-checked
	// against the database, not trusted from the token.
	profile, err := store.GetProfile(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	// 3. Only owners and admins may roll back imports.
	if !profile.Role.CanManageImports() {
		return nil, ErrRollbackForbidden
	}

	// 4. The target job must exist.
	job, err := store.GetImportJob(ctx, jobId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	// 5. Strict tenant isolation, independent of role.
	if job.OrganizationId != profile.OrganizationId {
		return nil, ErrCrossTenant
	}

	// 6. Rollback must be permitted for this job at all.
	if job.CanRollback == nil || !*job.CanRollback {
		return nil, ErrCannotRollback
	}

	// 7. A job is rolled back at most once; any prior attempt blocks re-entry.
	if job.RollbackStatus != nil {
		return nil, fmt.Errorf("%w: rollback already %s", ErrRollbackConflict, *job.RollbackStatus)
	}

	summary, err := RollbackImportJob(ctx, store, logger, jobId, false)
	if err != nil {
		return nil, err
	}

	total := summary.RolledBackCount + summary.FailedCount
	result := &RollbackResult{
		Success:         summary.Success(),
		RolledBackCount: summary.RolledBackCount,
		FailedCount:     summary.FailedCount,
	}
	if summary.Success() {
		result.Message = fmt.Sprintf("Rollback completed: %d of %d rows reverted", summary.RolledBackCount, total)
	} else {
		result.Message = fmt.Sprintf("Rollback completed with errors: %d of %d failed", summary.FailedCount, total)
	}
	return result, nil
}
