package service

import (
	"context"
	"time"

	"otpgate/internal/entity"

	"golang.org/x/crypto/bcrypt"
)

// Issuance and verification policy. Not configurable per call.
const (
	RateLimitWindow    = 10 * time.Minute
	RateLimitMaxIssues = 3
	EmailCodeTTL       = 5 * time.Minute
	PhoneCodeTTL       = 10 * time.Minute
	ResetSentinelTTL   = 5 * time.Minute
	MinPasswordLength  = 6
)

type PhoneVia string

const (
	ViaSMS      PhoneVia = "sms"
	ViaWhatsApp PhoneVia = "whatsapp"
)

func (v PhoneVia) orDefault() PhoneVia {
	if v == ViaWhatsApp {
		return ViaWhatsApp
	}
	return ViaSMS
}

type VerificationConfig struct {
	// MaskUnknownAccounts makes RequestReset answer unknown identifiers with the
	// same generic result as known ones instead of ErrNotFound.
	MaskUnknownAccounts bool
}

type EmailDispatcher interface {
	SendCode(ctx context.Context, address string, code string, purpose entity.Purpose) error
}

// PhoneDispatcher fronts the phone verification vendor. When Delegated is
// false the vendor is not configured: SendCode fails and VerifyCode never
// approves, and the engine falls back to locally stored codes.
type PhoneDispatcher interface {
	Delegated() bool
	SendCode(ctx context.Context, phone string, via PhoneVia) error
	VerifyCode(ctx context.Context, phone string, code string) (bool, error)
}

// LocalCodeSender is implemented by phone dispatchers that can deliver a code
// generated by the engine.
type LocalCodeSender interface {
	SendLocalCode(ctx context.Context, phone string, code string, purpose entity.Purpose, via PhoneVia) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash string, password string) bool
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

type BcryptPasswordHasher struct {
	Cost int
}

func (h BcryptPasswordHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (h BcryptPasswordHasher) Verify(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
