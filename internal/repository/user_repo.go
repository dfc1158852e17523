package repository

import (
	"context"
	"errors"
	"time"

	"otpgate/internal/entity"
	"otpgate/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidContact is returned by Create when the email or phone cannot be normalized.
var ErrInvalidContact = errors.New("invalid email or phone")

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	MarkVerified(ctx context.Context, userID uuid.UUID, channel entity.Channel) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	if err := normalizeContacts(user); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = true", id).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &user, err
}

// FindByIdentifier looks the account up by email or phone depending on the
// shape of identifier. Emails compare case-insensitively so rows written
// before normalization are still found.
func (r *userRepository) FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error) {
	identifier = utils.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, nil
	}
	column := "phone"
	if utils.IsEmail(identifier) {
		column = "lower(email)"
	}
	var user entity.User
	err := r.db.WithContext(ctx).
		Where(column+" = ? AND is_active = true", identifier).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &user, err
}

func (r *userRepository) SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", userID).
		Update("password_hash", hash).
		Error
}

func (r *userRepository) MarkVerified(ctx context.Context, userID uuid.UUID, channel entity.Channel) error {
	column := "phone_verified_at"
	if channel == entity.ChannelEmail {
		column = "email_verified_at"
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND "+column+" IS NULL", userID).
		Update(column, &now).
		Error
}

// normalizeContacts rewrites the user's email and phone into the form the
// verification engine looks them up by.
func normalizeContacts(user *entity.User) error {
	if user.Email != nil {
		email := utils.NormalizeIdentifier(*user.Email)
		if !utils.IsEmail(email) {
			return ErrInvalidContact
		}
		user.Email = &email
	}
	if user.Phone != nil {
		phone := utils.NormalizePhone(*user.Phone)
		if phone == "" {
			return ErrInvalidContact
		}
		user.Phone = &phone
	}
	return nil
}
