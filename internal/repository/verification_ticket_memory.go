package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"otpgate/internal/entity"

	"github.com/google/uuid"
)

// MemoryTicketRepository keeps tickets in process memory. Used when no
// database is configured and in tests.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	tickets []*entity.VerificationTicket
	now     func() time.Time
}

func NewMemoryTicketRepository(now func() time.Time) *MemoryTicketRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryTicketRepository{now: now}
}

func (r *MemoryTicketRepository) Create(ctx context.Context, t *entity.VerificationTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	stored := *t
	r.tickets = append(r.tickets, &stored)
	return nil
}

func (r *MemoryTicketRepository) FindActive(ctx context.Context, key TicketKey, filter CodeFilter) (*entity.VerificationTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	return r.newest(key, filter, func(t *entity.VerificationTicket) bool {
		return t.ActiveAt(now)
	}), nil
}

func (r *MemoryTicketRepository) FindLatest(ctx context.Context, key TicketKey, filter CodeFilter) (*entity.VerificationTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	return r.newest(key, filter, func(t *entity.VerificationTicket) bool {
		return t.ExpiresAt.After(now)
	}), nil
}

func (r *MemoryTicketRepository) InvalidateAllActive(ctx context.Context, key TicketKey, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var count int64
	for _, t := range r.tickets {
		if !matches(t, key, AnyCode) || !t.ActiveAt(now) {
			continue
		}
		if !before.IsZero() && t.CreatedAt.After(before) {
			continue
		}
		t.IsUsed = true
		count++
	}
	return count, nil
}

func (r *MemoryTicketRepository) IncrementAttempts(ctx context.Context, id uuid.UUID, ceiling int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.byID(id)
	if t == nil || t.IsUsed || t.Attempts >= ceiling {
		return 0, ErrTicketNotActive
	}
	t.Attempts++
	if t.Attempts >= ceiling {
		t.IsUsed = true
	}
	return t.Attempts, nil
}

func (r *MemoryTicketRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.byID(id)
	if t == nil || t.IsUsed {
		return ErrTicketNotActive
	}
	t.IsUsed = true
	return nil
}

func (r *MemoryTicketRepository) CountRecent(ctx context.Context, key TicketKey, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, t := range r.tickets {
		if matches(t, key, AnyCode) && t.Code != entity.CodeVerified && !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryTicketRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tickets[:0]
	var deleted int64
	for _, t := range r.tickets {
		if t.ExpiresAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	r.tickets = kept
	return deleted, nil
}

// Snapshot returns copies of every stored ticket, oldest first.
func (r *MemoryTicketRepository) Snapshot() []entity.VerificationTicket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.VerificationTicket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryTicketRepository) newest(key TicketKey, filter CodeFilter, keep func(*entity.VerificationTicket) bool) *entity.VerificationTicket {
	var found *entity.VerificationTicket
	for _, t := range r.tickets {
		if !matches(t, key, filter) || !keep(t) {
			continue
		}
		if found == nil || !t.CreatedAt.Before(found.CreatedAt) {
			found = t
		}
	}
	if found == nil {
		return nil
	}
	out := *found
	return &out
}

func (r *MemoryTicketRepository) byID(id uuid.UUID) *entity.VerificationTicket {
	for _, t := range r.tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func matches(t *entity.VerificationTicket, key TicketKey, filter CodeFilter) bool {
	if t.Identifier != key.Identifier || t.Channel != key.Channel || t.Purpose != key.Purpose {
		return false
	}
	switch filter {
	case LocalCodesOnly:
		return !t.IsSentinel()
	case VerifiedSentinelOnly:
		return t.Code == entity.CodeVerified
	case DelegatedOnly:
		return t.Code == entity.CodeDelegated
	}
	return true
}
