package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("too many codes requested, try again later")
	ErrInvalidOrExpired = errors.New("invalid or expired code")
	ErrTooManyAttempts  = errors.New("too many attempts, request a new code")
	ErrDeliveryFailed   = errors.New("could not deliver verification code")
	ErrNotFound         = errors.New("account not found")
	ErrWeakPassword     = errors.New("password must be at least 6 characters")
	ErrStorage          = errors.New("storage unavailable")

	// ErrDispatcherNotConfigured is returned by collaborators that have no vendor credentials.
	ErrDispatcherNotConfigured = errors.New("dispatcher not configured")
)

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
