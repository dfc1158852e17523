package repository

import (
	"context"
	"sync"
	"time"

	"otpgate/internal/entity"
	"otpgate/internal/utils"

	"github.com/google/uuid"
)

// MemoryUserRepository is the user store used when no database is configured.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*entity.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[uuid.UUID]*entity.User)}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *entity.User) error {
	if err := normalizeContacts(user); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.IsActive = true
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok && u.IsActive {
		out := *u
		return &out, nil
	}
	return nil, nil
}

func (r *MemoryUserRepository) FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error) {
	identifier = utils.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if !u.IsActive {
			continue
		}
		if (u.Email != nil && *u.Email == identifier) || (u.Phone != nil && *u.Phone == identifier) {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.PasswordHash = &hash
	}
	return nil
}

func (r *MemoryUserRepository) MarkVerified(ctx context.Context, userID uuid.UUID, channel entity.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	now := time.Now()
	switch channel {
	case entity.ChannelEmail:
		if u.EmailVerifiedAt == nil {
			u.EmailVerifiedAt = &now
		}
	case entity.ChannelPhone:
		if u.PhoneVerifiedAt == nil {
			u.PhoneVerifiedAt = &now
		}
	}
	return nil
}
