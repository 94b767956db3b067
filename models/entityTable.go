package models

import (
	"context"
	"fmt"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/utils"
)

// entityModelFor maps the polymorphic entity_type of a snapshot onto the
// GORM model of the table it targets.
func entityModelFor(entityType ImportEntityType) (interface{}, error) {
	switch entityType {
	case ImportEntityTypeMember:
		return &Member{}, nil
	case ImportEntityTypeAdvisor:
		return &Advisor{}, nil
	case ImportEntityTypeBillGroup:
		return &BillGroup{}, nil
	default:
		return nil, fmt.Errorf("unknown import entity type %q", entityType)
	}
}

// DeleteEntityRow removes the row an insert snapshot points at. A row that is
// already gone counts as success: the desired end state is reached either way.
func DeleteEntityRow(ctx context.Context, entityType ImportEntityType, entityId int) error {
	model, err := entityModelFor(entityType)
	if err != nil {
		return err
	}
	db := config.GetDB()

	// RowsAffected == 0 means the row was deleted by some other process;
	// the reversal is an idempotent no-op in that case.
	return db.WithContext(ctx).Where("id = ?", entityId).Delete(model).Error
}

// ApplyPreviousValues writes an update snapshot's column map back onto the
// entity row. Returns ErrorRecordNotFound when the row no longer exists:
// a value cannot be restored onto a missing row.
func ApplyPreviousValues(ctx context.Context, entityType ImportEntityType, entityId int, values map[string]interface{}) error {
	model, err := entityModelFor(entityType)
	if err != nil {
		return err
	}
	db := config.GetDB()

	// Existence is checked explicitly: an UPDATE that changes nothing also
	// reports zero affected rows, so RowsAffected alone cannot distinguish
	// "missing" from "already equal".
	var count int64
	if err := db.WithContext(ctx).Model(model).Where("id = ?", entityId).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return utils.ErrorRecordNotFound
	}

	return db.WithContext(ctx).Model(model).
		Where("id = ?", entityId).
		Updates(values).Error
}
