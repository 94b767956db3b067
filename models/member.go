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

// Member is a covered individual in a health-sharing plan.
type Member struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	MemberNo       string          `gorm:"index;size:50;not null" json:"member_no" binding:"required"`
	FirstName      string          `gorm:"size:100;not null" json:"first_name" binding:"required"`
	LastName       string          `gorm:"size:100;not null" json:"last_name"`
	Email          string          `gorm:"size:255" json:"email"`
	Phone          string          `gorm:"size:20" json:"phone"`
	MonthlyShare   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"monthly_share"`
	BillGroupId    int             `gorm:"index;default:0" json:"bill_group_id"`
	AdvisorId      int             `gorm:"index;default:0" json:"advisor_id"`
	Status         MemberStatus    `gorm:"type:enum('active','inactive');default:active" json:"status"`
	EnrolledAt     *time.Time      `json:"enrolled_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindMemberByMemberNo returns the member with the given member number inside
// the caller's organization, or ErrorRecordNotFound.
func FindMemberByMemberNo(ctx context.Context, memberNo string) (*Member, error) {
	db := config.GetDB()

	var member Member
	err := db.WithContext(ctx).Where("member_no = ?", memberNo).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &member, nil
}

func GetMember(ctx context.Context, id int) (*Member, error) {
	db := config.GetDB()

	var member Member
	err := db.WithContext(ctx).Where("id = ?", id).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &member, nil
}
