package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"otpgate/internal/entity"
	"otpgate/internal/repository"
	"otpgate/internal/utils"
)

const maskedResetMessage = "if an account exists, a verification code has been sent"

// RequestReset issues a password_reset code to the account owning
// identifier. The channel follows the identifier's shape.
func (s *VerificationService) RequestReset(ctx context.Context, input ResetRequestInput) (*IssueResult, error) {
	key, err := s.resetKey(input.Identifier)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByIdentifier(ctx, key.Identifier)
	if err != nil {
		return nil, storageError("find user", err)
	}
	if user == nil {
		s.entry(key).Info("password reset requested for unknown account")
		if !s.config.MaskUnknownAccounts {
			return nil, ErrNotFound
		}
		return &IssueResult{Message: maskedResetMessage, ExpiresIn: int64(ttlFor(key.Channel).Seconds())}, nil
	}

	result, err := s.issue(ctx, key, input.Via, input.IPAddress)
	if err != nil {
		return nil, err
	}
	if s.config.MaskUnknownAccounts {
		result.Message = maskedResetMessage
	}
	return result, nil
}

// VerifyResetCode consumes the reset code and, on success, replaces the
// family with a short-lived VERIFIED sentinel that authorizes ResetPassword.
func (s *VerificationService) VerifyResetCode(ctx context.Context, input VerifyResetInput) (*VerifyResult, error) {
	key, err := s.resetKey(input.Identifier)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, ErrInvalidInput
	}
	if err := s.verify(ctx, key, code, input.IPAddress); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := s.tickets.InvalidateAllActive(ctx, key, now); err != nil {
		return nil, storageError("invalidate reset tickets", err)
	}
	sentinel := newTicket(key, entity.CodeVerified, now, ResetSentinelTTL)
	if err := s.tickets.Create(ctx, sentinel); err != nil {
		return nil, storageError("create reset sentinel", err)
	}

	_ = s.logEvent(ctx, key, input.IPAddress, entity.ActionResetVerified, map[string]any{"ticket_id": sentinel.ID})
	return &VerifyResult{Verified: true, ExpiresIn: int64(ResetSentinelTTL.Seconds())}, nil
}

// ResetPassword changes the password of the account owning identifier. It
// requires an unused VERIFIED sentinel; the sentinel is claimed before the
// password is written so two concurrent calls cannot both succeed.
func (s *VerificationService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	key, err := s.resetKey(input.Identifier)
	if err != nil {
		return err
	}

	sentinel, err := s.tickets.FindActive(ctx, key, repository.VerifiedSentinelOnly)
	if err != nil {
		return storageError("find reset sentinel", err)
	}
	if sentinel == nil {
		return ErrInvalidOrExpired
	}

	if len(input.NewPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	user, err := s.users.FindByIdentifier(ctx, key.Identifier)
	if err != nil {
		return storageError("find user", err)
	}
	if user == nil {
		return ErrNotFound
	}

	hash, err := s.passwordHash.Hash(input.NewPassword)
	if err != nil {
		return err
	}

	if err := s.tickets.MarkUsed(ctx, sentinel.ID); err != nil {
		if errors.Is(err, repository.ErrTicketNotActive) {
			return ErrInvalidOrExpired
		}
		return storageError("consume reset sentinel", err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		s.entry(key).WithError(err).Error("password update failed after sentinel was consumed")
		return storageError("set password", err)
	}

	s.entry(key).Info("password reset completed")
	_ = s.logEvent(ctx, key, input.IPAddress, entity.ActionPasswordReset, map[string]any{"user_id": user.ID})
	return nil
}

func (s *VerificationService) resetKey(identifier string) (repository.TicketKey, error) {
	channel := entity.ChannelPhone
	if utils.IsEmail(strings.TrimSpace(identifier)) {
		channel = entity.ChannelEmail
	}
	return s.ticketKey(channel, identifier, entity.PurposePasswordReset)
}

func ttlFor(channel entity.Channel) time.Duration {
	if channel == entity.ChannelEmail {
		return EmailCodeTTL
	}
	return PhoneCodeTTL
}
