package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type VerificationAction string

const (
	ActionCodeIssued     VerificationAction = "code_issued"
	ActionCodeVerified   VerificationAction = "code_verified"
	ActionCodeRejected   VerificationAction = "code_rejected"
	ActionTicketLocked   VerificationAction = "ticket_locked"
	ActionDeliveryFailed VerificationAction = "delivery_failed"
	ActionResetVerified  VerificationAction = "reset_verified"
	ActionPasswordReset  VerificationAction = "password_reset"
)

// VerificationEvent is an append-only audit row. It never carries a code.
type VerificationEvent struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`

	Identifier string  `gorm:"type:varchar(255);not null;index"`
	Channel    Channel `gorm:"type:varchar(16);not null"`
	Purpose    Purpose `gorm:"type:varchar(32);not null"`

	IPAddress *string            `gorm:"type:varchar(45)"`
	Action    VerificationAction `gorm:"type:varchar(32);not null"`

	Metadata datatypes.JSON

	CreatedAt time.Time
}
