package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/utils"
)

// AuditLog is the compliance trail: one row per state-changing action.
type AuditLog struct {
	ID             int         `gorm:"primary_key" json:"id"`
	OrganizationId string      `gorm:"index;not null" json:"organization_id"`
	Action         AuditAction `gorm:"size:50;not null" json:"action"`
	ReferenceId    int         `gorm:"index" json:"reference_id"`
	ReferenceType  string      `gorm:"size:255" json:"reference_type"`
	Details        string      `gorm:"type:text" json:"details"`
	UserId         int         `gorm:"index;not null" json:"user_id"`
	UserName       string      `gorm:"size:100" json:"user_name"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// CreateAuditLog writes one audit entry. Identity comes from context the same
// way the rest of the persistence layer resolves it.
func CreateAuditLog(ctx context.Context, action AuditAction, referenceId int, referenceType string, details interface{}) error {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return errors.New("organization id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, _ := utils.GetUserNameFromContext(ctx)

	d, _ := json.Marshal(details)

	entry := AuditLog{
		OrganizationId: organizationId,
		Action:         action,
		ReferenceId:    referenceId,
		ReferenceType:  referenceType,
		Details:        string(d),
		UserId:         userId,
		UserName:       userName,
	}
	return db.WithContext(ctx).Create(&entry).Error
}
