package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/utils"
	"gorm.io/gorm"
)

// ImportSnapshot records what one imported row changed, with enough data to
// reverse exactly that row: entity_type+entity_id to delete an insert,
// previous_values to restore an update. Snapshots are written inside the same
// transaction as the row mutation and are never deleted; they remain as the
// historical audit trail after rollback, with is_rolled_back flipped.
type ImportSnapshot struct {
	ID             int               `gorm:"primary_key" json:"id"`
	OrganizationId string            `gorm:"index;not null" json:"organization_id"`
	ImportJobId    int               `gorm:"index;not null" json:"import_job_id"`
	RowIndex       int               `json:"row_index"`
	OperationType  SnapshotOperation `gorm:"type:enum('insert','update');not null" json:"operation_type"`
	EntityType     ImportEntityType  `gorm:"size:50;not null" json:"entity_type"`
	EntityId       int               `gorm:"index;not null" json:"entity_id"`
	// PreviousValues holds column->value JSON for update snapshots; empty for inserts.
	PreviousValues string    `gorm:"type:text" json:"previous_values"`
	IsRolledBack   *bool     `gorm:"not null;default:false" json:"is_rolled_back"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RecordInsertSnapshot writes the undo record for a row the import created.
// Must run on the same tx as the insert so a crash cannot leave an
// unreversible row behind.
func RecordInsertSnapshot(tx *gorm.DB, organizationId string, jobId int, rowIndex int, entityType ImportEntityType, entityId int) error {
	snap := ImportSnapshot{
		OrganizationId: organizationId,
		ImportJobId:    jobId,
		RowIndex:       rowIndex,
		OperationType:  SnapshotOperationInsert,
		EntityType:     entityType,
		EntityId:       entityId,
		IsRolledBack:   utils.NewFalse(),
	}
	return tx.Create(&snap).Error
}

// RecordUpdateSnapshot writes the undo record for a row the import modified.
// previousValues must capture every column the update touched.
func RecordUpdateSnapshot(tx *gorm.DB, organizationId string, jobId int, rowIndex int, entityType ImportEntityType, entityId int, previousValues map[string]interface{}) error {
	payload, err := json.Marshal(previousValues)
	if err != nil {
		return err
	}
	snap := ImportSnapshot{
		OrganizationId: organizationId,
		ImportJobId:    jobId,
		RowIndex:       rowIndex,
		OperationType:  SnapshotOperationUpdate,
		EntityType:     entityType,
		EntityId:       entityId,
		PreviousValues: string(payload),
		IsRolledBack:   utils.NewFalse(),
	}
	return tx.Create(&snap).Error
}

// ListUnrolledSnapshots returns the job's un-reversed snapshots oldest first.
// Reversal must follow creation order so a row is never touched after its
// prerequisite rows have been undone.
func ListUnrolledSnapshots(ctx context.Context, jobId int) ([]ImportSnapshot, error) {
	db := config.GetDB()

	var snapshots []ImportSnapshot
	err := db.WithContext(ctx).
		Where("import_job_id = ? AND is_rolled_back = ?", jobId, false).
		Order("id ASC").
		Find(&snapshots).Error
	return snapshots, err
}

// CountSnapshots reports how many undo records a job produced.
func CountSnapshots(tx *gorm.DB, jobId int) (int64, error) {
	var count int64
	err := tx.Model(&ImportSnapshot{}).
		Where("import_job_id = ?", jobId).
		Count(&count).Error
	return count, err
}

// MarkSnapshotRolledBack flips is_rolled_back exactly once. The conditional
// WHERE is a hard invariant, not an optimization: re-reversing an
// update-restore could clobber unrelated later edits to the row.
func MarkSnapshotRolledBack(ctx context.Context, id int) (bool, error) {
	db := config.GetDB()

	res := db.WithContext(ctx).Model(&ImportSnapshot{}).
		Where("id = ? AND is_rolled_back = ?", id, false).
		Updates(map[string]interface{}{
			"is_rolled_back": true,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DecodePreviousValues unmarshals the stored column map of an update snapshot.
func (s *ImportSnapshot) DecodePreviousValues() (map[string]interface{}, error) {
	if s.OperationType != SnapshotOperationUpdate {
		return nil, errors.New("snapshot has no previous values")
	}
	values := map[string]interface{}{}
	if err := json.Unmarshal([]byte(s.PreviousValues), &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("snapshot previous values are empty")
	}
	return values, nil
}
