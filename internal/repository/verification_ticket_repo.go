package repository

import (
	"context"
	"errors"
	"time"

	"otpgate/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTicketNotActive is returned by conditional updates that found no unused ticket to change.
var ErrTicketNotActive = errors.New("ticket not active")

// TicketKey identifies a ticket family.
type TicketKey struct {
	Identifier string
	Channel    entity.Channel
	Purpose    entity.Purpose
}

type CodeFilter int

const (
	AnyCode CodeFilter = iota
	// LocalCodesOnly skips both sentinel kinds.
	LocalCodesOnly
	VerifiedSentinelOnly
	// DelegatedOnly matches vendor tracking tickets.
	DelegatedOnly
)

type VerificationTicketRepository interface {
	Create(ctx context.Context, ticket *entity.VerificationTicket) error
	FindActive(ctx context.Context, key TicketKey, filter CodeFilter) (*entity.VerificationTicket, error)
	FindLatest(ctx context.Context, key TicketKey, filter CodeFilter) (*entity.VerificationTicket, error)
	InvalidateAllActive(ctx context.Context, key TicketKey, before time.Time) (int64, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID, ceiling int) (int, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
	CountRecent(ctx context.Context, key TicketKey, since time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type verificationTicketRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewVerificationTicketRepository(db *gorm.DB, now func() time.Time) VerificationTicketRepository {
	if now == nil {
		now = time.Now
	}
	return &verificationTicketRepository{db: db, now: now}
}

func (r *verificationTicketRepository) Create(ctx context.Context, t *entity.VerificationTicket) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *verificationTicketRepository) FindActive(
	ctx context.Context,
	key TicketKey,
	filter CodeFilter,
) (*entity.VerificationTicket, error) {

	var ticket entity.VerificationTicket
	err := r.family(ctx, key, filter).
		Where("is_used = false AND expires_at > ?", r.now()).
		Order("created_at DESC").
		First(&ticket).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ticket, err
}

func (r *verificationTicketRepository) FindLatest(
	ctx context.Context,
	key TicketKey,
	filter CodeFilter,
) (*entity.VerificationTicket, error) {

	var ticket entity.VerificationTicket
	err := r.family(ctx, key, filter).
		Where("expires_at > ?", r.now()).
		Order("created_at DESC").
		First(&ticket).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ticket, err
}

func (r *verificationTicketRepository) InvalidateAllActive(ctx context.Context, key TicketKey, before time.Time) (int64, error) {
	query := r.family(ctx, key, AnyCode).
		Where("is_used = false AND expires_at > ?", r.now())
	if !before.IsZero() {
		query = query.Where("created_at <= ?", before)
	}
	result := query.Update("is_used", true)
	return result.RowsAffected, result.Error
}

// IncrementAttempts bumps the counter in a single conditional UPDATE and locks
// the ticket in the same statement once the ceiling is reached.
func (r *verificationTicketRepository) IncrementAttempts(ctx context.Context, id uuid.UUID, ceiling int) (int, error) {
	var updated []entity.VerificationTicket
	result := r.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "attempts"}, {Name: "is_used"}}}).
		Where("id = ? AND is_used = false AND attempts < ?", id, ceiling).
		Updates(map[string]any{
			"attempts": gorm.Expr("attempts + 1"),
			"is_used":  gorm.Expr("attempts + 1 >= ?", ceiling),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 || len(updated) == 0 {
		return 0, ErrTicketNotActive
	}
	return updated[0].Attempts, nil
}

func (r *verificationTicketRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&entity.VerificationTicket{}).
		Where("id = ? AND is_used = false", id).
		Update("is_used", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTicketNotActive
	}
	return nil
}

func (r *verificationTicketRepository) CountRecent(ctx context.Context, key TicketKey, since time.Time) (int64, error) {
	var count int64
	err := r.family(ctx, key, AnyCode).
		Where("created_at >= ? AND code <> ?", since, entity.CodeVerified).
		Count(&count).Error
	return count, err
}

func (r *verificationTicketRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&entity.VerificationTicket{})
	return result.RowsAffected, result.Error
}

func (r *verificationTicketRepository) family(ctx context.Context, key TicketKey, filter CodeFilter) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(&entity.VerificationTicket{}).
		Where("identifier = ? AND channel = ? AND purpose = ?", key.Identifier, key.Channel, key.Purpose)
	switch filter {
	case LocalCodesOnly:
		query = query.Where("code NOT IN ?", []string{entity.CodeDelegated, entity.CodeVerified})
	case VerifiedSentinelOnly:
		query = query.Where("code = ?", entity.CodeVerified)
	case DelegatedOnly:
		query = query.Where("code = ?", entity.CodeDelegated)
	}
	return query
}
