package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
	"github.com/sirupsen/logrus"
)

// RollbackSummary is the orchestrator's accounting for one rollback attempt.
// A non-zero FailedCount is an operational outcome, not an exception: the
// remaining snapshots were still reversed and the job's terminal status
// reflects the aggregate.
type RollbackSummary struct {
	RolledBackCount int      `json:"rolled_back_count"`
	FailedCount     int      `json:"failed_count"`
	Errors          []string `json:"errors,omitempty"`
}

func (s *RollbackSummary) Success() bool { return s.FailedCount == 0 }

// RollbackImportJob reverses every un-reversed snapshot of one import job,
// oldest first, with per-row fault isolation: one row's failure never aborts
// the rest.
//
// resume=true skips the claim step; it is only used by the operator recovery
// path for jobs already stuck in_progress after a crash. Resuming is safe
// because snapshots already flagged is_rolled_back are never fetched again.
func RollbackImportJob(ctx context.Context, store RollbackStore, logger *logrus.Logger, jobId int, resume bool) (*RollbackSummary, error) {
	if !resume {
		claimed, err := store.BeginRollback(ctx, jobId)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Another caller won the conditional update between the gate
			// check and now.
			return nil, fmt.Errorf("%w: in_progress", ErrRollbackConflict)
		}
	}

	snapshots, err := store.ListUnrolledSnapshots(ctx, jobId)
	if err != nil {
		return nil, err
	}

	summary := &RollbackSummary{}
	for i := range snapshots {
		// The whole pass is cancellable between snapshots; is_rolled_back
		// checkpoints progress so an interrupted rollback can be resumed.
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		snap := &snapshots[i]
		if err := reverseSnapshot(ctx, store, snap); err != nil {
			summary.FailedCount++
			summary.Errors = append(summary.Errors, fmt.Sprintf("row %d: %v", snap.RowIndex, err))
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":         "ImportRollback",
					"import_job_id": jobId,
					"snapshot_id":   snap.ID,
					"row_index":     snap.RowIndex,
					"entity_type":   snap.EntityType,
					"entity_id":     snap.EntityId,
				}).Warn("snapshot reversal failed: " + err.Error())
			}
			continue
		}

		marked, err := store.MarkSnapshotRolledBack(ctx, snap.ID)
		if err != nil {
			summary.FailedCount++
			summary.Errors = append(summary.Errors, fmt.Sprintf("row %d: mark rolled back: %v", snap.RowIndex, err))
			continue
		}
		if !marked && logger != nil {
			// Flag was flipped by someone else after we listed; the entity
			// state is already correct, so this still counts as reversed.
			logger.WithFields(logrus.Fields{
				"field":         "ImportRollback",
				"import_job_id": jobId,
				"snapshot_id":   snap.ID,
			}).Warn("snapshot was marked rolled back concurrently")
		}
		summary.RolledBackCount++
	}

	status := models.RollbackStatusCompleted
	if summary.FailedCount > 0 {
		status = models.RollbackStatusFailed
	}
	if err := store.FinalizeRollback(ctx, jobId, status); err != nil {
		return summary, err
	}

	if err := store.CreateAuditLog(ctx, models.AuditActionImportRollback, jobId, "import_job", summary); err != nil {
		// The rollback itself already happened; a failed audit write is
		// logged, not turned into a rollback failure.
		if logger != nil {
			logAuditError(logger, jobId, err)
		}
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":             "ImportRollback",
			"import_job_id":     jobId,
			"rollback_status":   status,
			"rolled_back_count": summary.RolledBackCount,
			"failed_count":      summary.FailedCount,
		}).Info("import rollback finished")
	}

	return summary, nil
}

// reverseSnapshot undoes one row. Insert snapshots delete the row the import
// created (missing row = idempotent no-op); update snapshots write the
// captured previous values back (missing row = failure, nothing to restore onto).
func reverseSnapshot(ctx context.Context, store RollbackStore, snap *models.ImportSnapshot) error {
	switch snap.OperationType {
	case models.SnapshotOperationInsert:
		return store.DeleteEntityRow(ctx, snap.EntityType, snap.EntityId)
	case models.SnapshotOperationUpdate:
		values, err := snap.DecodePreviousValues()
		if err != nil {
			return err
		}
		if err := store.ApplyPreviousValues(ctx, snap.EntityType, snap.EntityId, values); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return fmt.Errorf("cannot restore values onto deleted row %d", snap.EntityId)
			}
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown snapshot operation %q", snap.OperationType)
	}
}

func logAuditError(logger *logrus.Logger, jobId int, err error) {
	logger.WithFields(logrus.Fields{
		"field":         "ImportRollback",
		"import_job_id": jobId,
	}).Error("failed to write rollback audit entry: " + err.Error())
}
