package entity

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        *string   `gorm:"type:varchar(255);uniqueIndex"`
	Phone        *string   `gorm:"type:varchar(32);uniqueIndex"`
	PasswordHash *string   `gorm:"type:text"`

	EmailVerifiedAt *time.Time
	PhoneVerifiedAt *time.Time
	IsActive        bool `gorm:"default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
