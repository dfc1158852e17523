package repository

import (
	"context"

	"otpgate/internal/entity"

	"gorm.io/gorm"
)

type VerificationEventRepository interface {
	Log(ctx context.Context, event *entity.VerificationEvent) error
}

type verificationEventRepository struct {
	db *gorm.DB
}

func NewVerificationEventRepository(db *gorm.DB) VerificationEventRepository {
	return &verificationEventRepository{db: db}
}

func (r *verificationEventRepository) Log(ctx context.Context, event *entity.VerificationEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
