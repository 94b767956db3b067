package workflow

import (
	"context"

	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
)

// RollbackStore is the persistence surface of the rollback engine. It exposes
// exactly the operations the gate and orchestrator need, so both can be
// exercised against an in-memory fake.
type RollbackStore interface {
	// GetProfile resolves the caller's stored identity.
	GetProfile(ctx context.Context, id int) (*models.Profile, error)
	// GetImportJob fetches a job across tenants; the gate performs the
	// explicit organization check itself.
	GetImportJob(ctx context.Context, id int) (*models.ImportJob, error)
	// BeginRollback claims the job: conditional transition NULL -> in_progress.
	BeginRollback(ctx context.Context, id int) (bool, error)
	// FinalizeRollback moves in_progress to completed or failed.
	FinalizeRollback(ctx context.Context, id int, status models.RollbackStatus) error
	ListUnrolledSnapshots(ctx context.Context, jobId int) ([]models.ImportSnapshot, error)
	// DeleteEntityRow reverses an insert snapshot; a missing row is a no-op.
	DeleteEntityRow(ctx context.Context, entityType models.ImportEntityType, entityId int) error
	// ApplyPreviousValues reverses an update snapshot; returns
	// utils.ErrorRecordNotFound when the row no longer exists.
	ApplyPreviousValues(ctx context.Context, entityType models.ImportEntityType, entityId int, values map[string]interface{}) error
	MarkSnapshotRolledBack(ctx context.Context, id int) (bool, error)
	CreateAuditLog(ctx context.Context, action models.AuditAction, referenceId int, referenceType string, details interface{}) error
}

// gormRollbackStore backs RollbackStore with the models layer.
type gormRollbackStore struct{}

// NewRollbackStore returns the database-backed store used in production.
func NewRollbackStore() RollbackStore {
	return gormRollbackStore{}
}

func (gormRollbackStore) GetProfile(ctx context.Context, id int) (*models.Profile, error) {
	return models.GetProfile(ctx, id)
}

func (gormRollbackStore) GetImportJob(ctx context.Context, id int) (*models.ImportJob, error) {
	// Tenant scoping is lifted here so the gate can tell "wrong tenant"
	// apart from "no such job". Everything after the gate runs scoped.
	return models.GetImportJob(utils.SetSkipTenantScopeInContext(ctx, true), id)
}

func (gormRollbackStore) BeginRollback(ctx context.Context, id int) (bool, error) {
	return models.BeginRollback(ctx, id)
}

func (gormRollbackStore) FinalizeRollback(ctx context.Context, id int, status models.RollbackStatus) error {
	return models.FinalizeRollback(ctx, id, status)
}

func (gormRollbackStore) ListUnrolledSnapshots(ctx context.Context, jobId int) ([]models.ImportSnapshot, error) {
	return models.ListUnrolledSnapshots(ctx, jobId)
}

func (gormRollbackStore) DeleteEntityRow(ctx context.Context, entityType models.ImportEntityType, entityId int) error {
	return models.DeleteEntityRow(ctx, entityType, entityId)
}

func (gormRollbackStore) ApplyPreviousValues(ctx context.Context, entityType models.ImportEntityType, entityId int, values map[string]interface{}) error {
	return models.ApplyPreviousValues(ctx, entityType, entityId, values)
}

func (gormRollbackStore) MarkSnapshotRolledBack(ctx context.Context, id int) (bool, error) {
	return models.MarkSnapshotRolledBack(ctx, id)
}

func (gormRollbackStore) CreateAuditLog(ctx context.Context, action models.AuditAction, referenceId int, referenceType string, details interface{}) error {
	return models.CreateAuditLog(ctx, action, referenceId, referenceType, details)
}
