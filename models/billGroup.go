package models

import (
	"context"
	"errors"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillGroup batches members onto one invoice cycle.
type BillGroup struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	Code           string          `gorm:"index;size:50;not null" json:"code" binding:"required"`
	Name           string          `gorm:"size:100;not null" json:"name" binding:"required"`
	PremiumAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"premium_amount"`
	DueDay         int             `gorm:"default:1" json:"due_day"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindBillGroupByCode(ctx context.Context, code string) (*BillGroup, error) {
	db := config.GetDB()

	var group BillGroup
	err := db.WithContext(ctx).Where("code = ?", code).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &group, nil
}
