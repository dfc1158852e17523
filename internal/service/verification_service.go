package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"otpgate/internal/entity"
	"otpgate/internal/repository"
	"otpgate/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const issuedMessage = "a verification code has been sent"

type VerificationService struct {
	tickets repository.VerificationTicketRepository
	users   repository.UserRepository
	events  repository.VerificationEventRepository

	email        EmailDispatcher
	phone        PhoneDispatcher
	passwordHash PasswordHasher
	clock        Clock
	logger       logrus.FieldLogger
	config       VerificationConfig
	generateCode func() (string, error)
}

func NewVerificationService(
	tickets repository.VerificationTicketRepository,
	users repository.UserRepository,
	events repository.VerificationEventRepository,
	email EmailDispatcher,
	phone PhoneDispatcher,
	passwordHash PasswordHasher,
	clock Clock,
	logger logrus.FieldLogger,
	config VerificationConfig,
) *VerificationService {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &VerificationService{
		tickets:      tickets,
		users:        users,
		events:       events,
		email:        email,
		phone:        phone,
		passwordHash: passwordHash,
		clock:        clock,
		logger:       logger,
		config:       config,
		generateCode: utils.GenerateNumericCode,
	}
}

// Issue sends a fresh code for (channel, identifier, purpose) and invalidates
// any code issued earlier for the same tuple.
func (s *VerificationService) Issue(ctx context.Context, input IssueInput) (*IssueResult, error) {
	key, err := s.ticketKey(input.Channel, input.Identifier, input.Purpose)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, key, input.Via, input.IPAddress)
}

// Verify consumes a code. Phone codes are checked with the vendor first and
// fall back to locally stored codes when the vendor is absent or declines.
func (s *VerificationService) Verify(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	key, err := s.ticketKey(input.Channel, input.Identifier, input.Purpose)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Code) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.verify(ctx, key, strings.TrimSpace(input.Code), input.IPAddress); err != nil {
		return nil, err
	}
	if key.Purpose == entity.PurposeAccountVerification {
		s.markAccountVerified(ctx, key)
	}
	return &VerifyResult{Verified: true}, nil
}

func (s *VerificationService) issue(ctx context.Context, key repository.TicketKey, via PhoneVia, ipAddress *string) (*IssueResult, error) {
	now := s.now()
	recent, err := s.tickets.CountRecent(ctx, key, now.Add(-RateLimitWindow))
	if err != nil {
		return nil, storageError("count recent tickets", err)
	}
	if recent >= RateLimitMaxIssues {
		s.entry(key).Info("issuance rate limited")
		return nil, ErrRateLimited
	}

	if _, err := s.tickets.InvalidateAllActive(ctx, key, now); err != nil {
		return nil, storageError("invalidate tickets", err)
	}

	if key.Channel == entity.ChannelEmail {
		return s.issueEmail(ctx, key, now, ipAddress)
	}
	return s.issuePhone(ctx, key, via.orDefault(), now, ipAddress)
}

func (s *VerificationService) issueEmail(ctx context.Context, key repository.TicketKey, now time.Time, ipAddress *string) (*IssueResult, error) {
	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}
	ticket := newTicket(key, utils.HashCode(code), now, EmailCodeTTL)
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, storageError("create ticket", err)
	}

	if s.email == nil {
		s.entry(key).Warn("no email dispatcher configured, code not delivered")
	} else if err := s.email.SendCode(ctx, key.Identifier, code, key.Purpose); err != nil {
		s.entry(key).WithError(err).Warn("email delivery failed")
		_ = s.logEvent(ctx, key, ipAddress, entity.ActionDeliveryFailed, nil)
	}

	_ = s.logEvent(ctx, key, ipAddress, entity.ActionCodeIssued, map[string]any{"ticket_id": ticket.ID})
	return &IssueResult{Message: issuedMessage, ExpiresIn: int64(EmailCodeTTL.Seconds())}, nil
}

func (s *VerificationService) issuePhone(ctx context.Context, key repository.TicketKey, via PhoneVia, now time.Time, ipAddress *string) (*IssueResult, error) {
	if s.phone != nil && s.phone.Delegated() {
		if err := s.phone.SendCode(ctx, key.Identifier, via); err != nil {
			s.entry(key).WithError(err).Warn("phone delivery failed")
			_ = s.logEvent(ctx, key, ipAddress, entity.ActionDeliveryFailed, map[string]any{"via": via})
			return nil, ErrDeliveryFailed
		}
		ticket := newTicket(key, entity.CodeDelegated, now, PhoneCodeTTL)
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return nil, storageError("create tracking ticket", err)
		}
		_ = s.logEvent(ctx, key, ipAddress, entity.ActionCodeIssued, map[string]any{"ticket_id": ticket.ID, "via": via, "delegated": true})
		return &IssueResult{Message: issuedMessage, ExpiresIn: int64(PhoneCodeTTL.Seconds())}, nil
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}
	ticket := newTicket(key, utils.HashCode(code), now, PhoneCodeTTL)
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, storageError("create ticket", err)
	}
	if sender, ok := s.phone.(LocalCodeSender); ok {
		if err := sender.SendLocalCode(ctx, key.Identifier, code, key.Purpose, via); err != nil {
			s.entry(key).WithError(err).Warn("local phone delivery failed")
			_ = s.logEvent(ctx, key, ipAddress, entity.ActionDeliveryFailed, map[string]any{"via": via})
		}
	} else {
		s.entry(key).Warn("phone vendor not configured, code not delivered")
	}

	_ = s.logEvent(ctx, key, ipAddress, entity.ActionCodeIssued, map[string]any{"ticket_id": ticket.ID, "via": via, "delegated": false})
	return &IssueResult{Message: issuedMessage, ExpiresIn: int64(PhoneCodeTTL.Seconds())}, nil
}

func (s *VerificationService) verify(ctx context.Context, key repository.TicketKey, code string, ipAddress *string) error {
	if key.Channel == entity.ChannelPhone && s.phone != nil && s.phone.Delegated() {
		// The vendor keeps one pending code per phone, so its approval only
		// counts for the purpose that has an open tracking ticket.
		tracking, err := s.tickets.FindActive(ctx, key, repository.DelegatedOnly)
		if err != nil {
			return storageError("find tracking ticket", err)
		}
		if tracking == nil {
			return s.verifyLocal(ctx, key, code, ipAddress)
		}
		approved, err := s.phone.VerifyCode(ctx, key.Identifier, code)
		if err != nil {
			s.entry(key).WithError(err).Warn("vendor verification failed, checking local tickets")
		}
		if approved {
			if _, err := s.tickets.InvalidateAllActive(ctx, key, time.Time{}); err != nil {
				return storageError("invalidate tracking tickets", err)
			}
			_ = s.logEvent(ctx, key, ipAddress, entity.ActionCodeVerified, map[string]any{"delegated": true})
			return nil
		}
	}
	return s.verifyLocal(ctx, key, code, ipAddress)
}

func (s *VerificationService) verifyLocal(ctx context.Context, key repository.TicketKey, code string, ipAddress *string) error {
	ticket, err := s.tickets.FindActive(ctx, key, repository.LocalCodesOnly)
	if err != nil {
		return storageError("find active ticket", err)
	}
	if ticket == nil {
		latest, err := s.tickets.FindLatest(ctx, key, repository.LocalCodesOnly)
		if err != nil {
			return storageError("find latest ticket", err)
		}
		if latest != nil && latest.Locked() {
			return ErrTooManyAttempts
		}
		return ErrInvalidOrExpired
	}

	if ticket.Locked() {
		if err := s.tickets.MarkUsed(ctx, ticket.ID); err != nil && !errors.Is(err, repository.ErrTicketNotActive) {
			return storageError("lock ticket", err)
		}
		_ = s.logEvent(ctx, key, ipAddress, entity.ActionTicketLocked, map[string]any{"ticket_id": ticket.ID})
		return ErrTooManyAttempts
	}

	if !utils.CodeMatches(code, ticket.Code) {
		attempts, err := s.tickets.IncrementAttempts(ctx, ticket.ID, entity.MaxVerificationAttempts)
		if errors.Is(err, repository.ErrTicketNotActive) {
			return ErrInvalidOrExpired
		}
		if err != nil {
			return storageError("increment attempts", err)
		}
		if attempts >= entity.MaxVerificationAttempts {
			s.entry(key).Warn("ticket locked after too many attempts")
			_ = s.logEvent(ctx, key, ipAddress, entity.ActionTicketLocked, map[string]any{"ticket_id": ticket.ID})
			return ErrTooManyAttempts
		}
		_ = s.logEvent(ctx, key, ipAddress, entity.ActionCodeRejected, map[string]any{"ticket_id": ticket.ID, "attempts": attempts})
		return ErrInvalidOrExpired
	}

	if err := s.tickets.MarkUsed(ctx, ticket.ID); err != nil {
		if errors.Is(err, repository.ErrTicketNotActive) {
			return ErrInvalidOrExpired
		}
		return storageError("consume ticket", err)
	}
	_ = s.logEvent(ctx, key, ipAddress, entity.ActionCodeVerified, map[string]any{"ticket_id": ticket.ID})
	return nil
}

func (s *VerificationService) markAccountVerified(ctx context.Context, key repository.TicketKey) {
	if s.users == nil {
		return
	}
	user, err := s.users.FindByIdentifier(ctx, key.Identifier)
	if err != nil {
		s.entry(key).WithError(err).Warn("lookup for verified account failed")
		return
	}
	if user == nil {
		return
	}
	if err := s.users.MarkVerified(ctx, user.ID, key.Channel); err != nil {
		s.entry(key).WithError(err).Warn("mark account verified failed")
	}
}

func (s *VerificationService) ticketKey(channel entity.Channel, identifier string, purpose entity.Purpose) (repository.TicketKey, error) {
	if !channel.Valid() || !purpose.Valid() {
		return repository.TicketKey{}, ErrInvalidInput
	}
	var normalized string
	switch channel {
	case entity.ChannelEmail:
		if utils.IsEmail(identifier) {
			normalized = utils.NormalizeIdentifier(identifier)
		}
	case entity.ChannelPhone:
		normalized = utils.NormalizePhone(identifier)
	}
	if normalized == "" {
		return repository.TicketKey{}, ErrInvalidInput
	}
	return repository.TicketKey{Identifier: normalized, Channel: channel, Purpose: purpose}, nil
}

func (s *VerificationService) logEvent(
	ctx context.Context,
	key repository.TicketKey,
	ipAddress *string,
	action entity.VerificationAction,
	metadata map[string]any,
) error {
	if s.events == nil {
		return nil
	}
	var payload datatypes.JSON
	if metadata != nil {
		bytes, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		payload = datatypes.JSON(bytes)
	}

	event := &entity.VerificationEvent{
		Identifier: key.Identifier,
		Channel:    key.Channel,
		Purpose:    key.Purpose,
		IPAddress:  ipAddress,
		Action:     action,
		Metadata:   payload,
	}
	if err := s.events.Log(ctx, event); err != nil {
		s.entry(key).WithError(err).Warn("audit event not recorded")
		return err
	}
	return nil
}

func (s *VerificationService) entry(key repository.TicketKey) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"channel":    key.Channel,
		"purpose":    key.Purpose,
		"identifier": utils.MaskIdentifier(key.Identifier),
	})
}

func (s *VerificationService) now() time.Time {
	return clockNow(s.clock)
}

func clockNow(c Clock) time.Time {
	if c == nil {
		return time.Now()
	}
	return c.Now()
}

func newTicket(key repository.TicketKey, code string, now time.Time, ttl time.Duration) *entity.VerificationTicket {
	return &entity.VerificationTicket{
		Identifier: key.Identifier,
		Channel:    key.Channel,
		Purpose:    key.Purpose,
		Code:       code,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
}
