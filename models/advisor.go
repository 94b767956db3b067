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

// Advisor sells plans and earns commission on member shares.
type Advisor struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	AdvisorNo      string          `gorm:"index;size:50;not null" json:"advisor_no" binding:"required"`
	Name           string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Email          string          `gorm:"size:255" json:"email"`
	Phone          string          `gorm:"size:20" json:"phone"`
	CommissionRate decimal.Decimal `gorm:"type:decimal(8,4);default:0" json:"commission_rate"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindAdvisorByAdvisorNo(ctx context.Context, advisorNo string) (*Advisor, error) {
	db := config.GetDB()

	var advisor Advisor
	err := db.WithContext(ctx).Where("advisor_no = ?", advisorNo).First(&advisor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &advisor, nil
}
