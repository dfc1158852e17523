package entity

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

type Purpose string

const (
	PurposeAccountVerification Purpose = "account_verification"
	PurposePasswordReset       Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeAccountVerification || p == PurposePasswordReset
}

// Sentinel codes. Locally generated codes are stored hashed, so neither value
// can collide with a real code.
const (
	CodeDelegated = "TWILIO_VERIFY"
	CodeVerified  = "VERIFIED"
)

// MaxVerificationAttempts is the wrong-answer ceiling; reaching it locks the ticket.
const MaxVerificationAttempts = 5

type VerificationTicket struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`

	Identifier string  `gorm:"type:varchar(255);not null;index:idx_ticket_lookup,priority:1"`
	Channel    Channel `gorm:"type:varchar(16);not null;index:idx_ticket_lookup,priority:2"`
	Purpose    Purpose `gorm:"type:varchar(32);not null;index:idx_ticket_lookup,priority:3"`
	Code       string  `gorm:"type:text;not null"`

	ExpiresAt time.Time `gorm:"not null;index"`
	IsUsed    bool      `gorm:"not null;default:false"`
	Attempts  int       `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;index:idx_ticket_lookup,priority:4"`
}

func (t *VerificationTicket) IsSentinel() bool {
	return t.Code == CodeDelegated || t.Code == CodeVerified
}

func (t *VerificationTicket) Locked() bool {
	return t.Attempts >= MaxVerificationAttempts
}

func (t *VerificationTicket) ActiveAt(now time.Time) bool {
	return !t.IsUsed && t.ExpiresAt.After(now)
}
