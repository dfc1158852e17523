// Package devotp parks plain codes generated while OTP_DEV_MODE is on so
// they can be read back from GET /dev/otp. Never wired in production.
package devotp

import (
	"context"
	"sync"
	"time"

	"otpgate/internal/entity"
)

// Key addresses one code family. Email and phone families never share an
// identifier, so the channel is implied.
type Key struct {
	Identifier string
	Purpose    entity.Purpose
}

type Store interface {
	Put(ctx context.Context, key Key, code string, expiresAt time.Time)
	// Get returns ok false when nothing is stored or the code has expired.
	Get(ctx context.Context, key Key) (code string, ok bool)
}

type parkedCode struct {
	code      string
	expiresAt time.Time
}

// MemoryStore keeps the latest code per Key. Expired codes are dropped on
// every Put.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[Key]parkedCode
	now   func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{codes: make(map[Key]parkedCode), now: now}
}

func (s *MemoryStore) Put(ctx context.Context, key Key, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, parked := range s.codes {
		if !parked.expiresAt.After(now) {
			delete(s.codes, k)
		}
	}
	s.codes[key] = parkedCode{code: code, expiresAt: expiresAt}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parked, ok := s.codes[key]
	if !ok || !parked.expiresAt.After(s.now()) {
		return "", false
	}
	return parked.code, true
}

// Len reports how many codes are parked, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
