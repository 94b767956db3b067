package models

import (
	"context"
	"errors"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/utils"
	"gorm.io/gorm"
)

// ImportJob is one bulk-data-import execution, scoped to an organization and
// an entity type. The import executor mutates status and row counters; the
// rollback orchestrator mutates rollback_status and rollback_at. Jobs are
// never deleted by this subsystem.
type ImportJob struct {
	ID             int              `gorm:"primary_key" json:"id"`
	OrganizationId string           `gorm:"index;not null" json:"organization_id"`
	EntityType     ImportEntityType `gorm:"size:50;not null" json:"entity_type"`
	FileName       string           `gorm:"size:255" json:"file_name"`
	Status         ImportStatus     `gorm:"type:enum('pending','processing','completed','failed');default:pending" json:"status"`

	TotalRows     int `gorm:"default:0" json:"total_rows"`
	InsertedCount int `gorm:"default:0" json:"inserted_count"`
	UpdatedCount  int `gorm:"default:0" json:"updated_count"`
	SkippedCount  int `gorm:"default:0" json:"skipped_count"`
	ErrorCount    int `gorm:"default:0" json:"error_count"`

	// CanRollback is cleared when no snapshots were recorded or policy disallows.
	CanRollback *bool `gorm:"not null;default:true" json:"can_rollback"`
	// RollbackStatus stays NULL until a rollback has been attempted.
	// Once completed or failed it is terminal; the value doubles as the
	// job-level guard against double rollback.
	RollbackStatus *RollbackStatus `gorm:"type:enum('pending','in_progress','completed','failed');default:null" json:"rollback_status"`
	RollbackAt     *time.Time      `json:"rollback_at"`

	CreatedBy int       `gorm:"index" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ImportRowError is one row the executor could not apply.
type ImportRowError struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	ImportJobId    int       `gorm:"index;not null" json:"import_job_id"`
	RowIndex       int       `json:"row_index"`
	Field          string    `gorm:"size:100" json:"field"`
	Message        string    `gorm:"type:text" json:"message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateImportJob(ctx context.Context, entityType ImportEntityType, fileName string) (*ImportJob, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	job := ImportJob{
		OrganizationId: organizationId,
		EntityType:     entityType,
		FileName:       fileName,
		Status:         ImportStatusPending,
		CanRollback:    utils.NewTrue(),
		CreatedBy:      userId,
	}
	if err := db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetImportJob fetches a job. The tenant guard scopes the lookup to the
// caller's organization, so a cross-tenant id behaves as not-found.
func GetImportJob(ctx context.Context, id int) (*ImportJob, error) {
	db := config.GetDB()

	var job ImportJob
	err := db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &job, nil
}

func ListImportJobs(ctx context.Context) ([]ImportJob, error) {
	db := config.GetDB()

	var jobs []ImportJob
	err := db.WithContext(ctx).Order("id DESC").Limit(100).Find(&jobs).Error
	return jobs, err
}

// MarkImportJobProcessing transitions pending -> processing. The conditional
// WHERE makes a duplicate trigger a no-op instead of a double run.
func MarkImportJobProcessing(ctx context.Context, id int) (bool, error) {
	db := config.GetDB()

	res := db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND status = ?", id, ImportStatusPending).
		Updates(map[string]interface{}{
			"status": ImportStatusProcessing,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FinalizeImportJob records the run outcome and counters. canRollback is
// cleared when the run produced nothing reversible.
func FinalizeImportJob(ctx context.Context, id int, status ImportStatus, totalRows, inserted, updated, skipped, errored int, canRollback bool) error {
	db := config.GetDB()

	return db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND status = ?", id, ImportStatusProcessing).
		Updates(map[string]interface{}{
			"status":         status,
			"total_rows":     totalRows,
			"inserted_count": inserted,
			"updated_count":  updated,
			"skipped_count":  skipped,
			"error_count":    errored,
			"can_rollback":   canRollback,
		}).Error
}

// BeginRollback claims the job for rollback: it sets rollback_status to
// in_progress only if no rollback was ever attempted. The conditional UPDATE
// is the concurrency primitive: the first caller wins, every concurrent or
// later caller sees RowsAffected == 0.
func BeginRollback(ctx context.Context, id int) (bool, error) {
	db := config.GetDB()

	res := db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND rollback_status IS NULL", id).
		Updates(map[string]interface{}{
			"rollback_status": RollbackStatusInProgress,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FinalizeRollback moves in_progress to its terminal state and stamps
// rollback_at. Terminal rows are never overwritten.
func FinalizeRollback(ctx context.Context, id int, status RollbackStatus) error {
	if !status.IsTerminal() {
		return errors.New("rollback finalize status must be terminal")
	}
	db := config.GetDB()

	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND rollback_status = ?", id, RollbackStatusInProgress).
		Updates(map[string]interface{}{
			"rollback_status": status,
			"rollback_at":     &now,
		}).Error
}

// ListStuckRollbacks returns jobs left in_progress longer than the threshold,
// e.g. after a crash mid-rollback. Used by the rollback-resume command.
func ListStuckRollbacks(ctx context.Context, olderThan time.Duration) ([]ImportJob, error) {
	db := config.GetDB()

	cutoff := time.Now().UTC().Add(-olderThan)
	var jobs []ImportJob
	err := db.WithContext(ctx).
		Where("rollback_status = ? AND updated_at < ?", RollbackStatusInProgress, cutoff).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}
