package models

import (
	"context"
	"errors"
	"time"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/utils"
	"gorm.io/gorm"
)

// Profile is the caller identity: one login within one organization.
type Profile struct {
	ID             int         `gorm:"primary_key" json:"id"`
	OrganizationId string      `gorm:"index;not null" json:"organization_id"`
	Email          string      `gorm:"size:255;not null;unique" json:"email" binding:"required"`
	Name           string      `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone          string      `gorm:"size:20" json:"phone"`
	Password       string      `gorm:"size:255;not null" json:"-"`
	Role           ProfileRole `gorm:"type:enum('owner','admin','advisor','staff');default:staff" json:"role"`
	IsActive       *bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProfile struct {
	OrganizationId string      `json:"organization_id"`
	Email          string      `json:"email" binding:"required"`
	Name           string      `json:"name" binding:"required"`
	Phone          string      `json:"phone"`
	Password       string      `json:"password" binding:"required"`
	Role           ProfileRole `json:"role" binding:"required"`
}

/*
caches:
	Profile:$email
*/

func (p Profile) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Profile:" + p.Email)
}

func CreateProfile(ctx context.Context, input *NewProfile) (*Profile, error) {
	db := config.GetDB()

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	profile := Profile{
		OrganizationId: input.OrganizationId,
		Email:          input.Email,
		Name:           input.Name,
		Phone:          input.Phone,
		Password:       string(hashed),
		Role:           input.Role,
		IsActive:       utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfileByEmail looks up a login identity. Redis first, then DB.
// Not tenant-scoped: login happens before the organization is known.
func GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	var profile Profile

	found, err := config.GetRedisObject("Profile:"+email, &profile)
	if err != nil {
		return nil, err
	}
	if found {
		return &profile, nil
	}

	db := config.GetDB()
	scopeCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	err = db.WithContext(scopeCtx).Where("email = ?", email).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if err := config.SetRedisObject("Profile:"+email, &profile, time.Hour); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfile fetches by id within the caller's organization.
func GetProfile(ctx context.Context, id int) (*Profile, error) {
	db := config.GetDB()

	var profile Profile
	err := db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func Login(ctx context.Context, email string, password string) (string, error) {
	profile, err := GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return "", errors.New("invalid email or password")
		}
		return "", err
	}
	if profile.IsActive != nil && !*profile.IsActive {
		return "", errors.New("account is disabled")
	}
	if err := utils.ComparePassword(profile.Password, password); err != nil {
		return "", errors.New("invalid email or password")
	}

	return utils.JwtGenerate(profile.ID, profile.OrganizationId, profile.Name, string(profile.Role))
}
