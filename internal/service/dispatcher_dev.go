package service

import (
	"context"

	"otpgate/internal/devotp"
	"otpgate/internal/entity"
	"otpgate/internal/utils"

	"github.com/sirupsen/logrus"
)

// DevEmailDispatcher parks codes in the dev OTP store instead of sending mail.
type DevEmailDispatcher struct {
	store  devotp.Store
	clock  Clock
	logger logrus.FieldLogger
}

func NewDevEmailDispatcher(store devotp.Store, clock Clock, logger logrus.FieldLogger) *DevEmailDispatcher {
	return &DevEmailDispatcher{store: store, clock: clock, logger: logger}
}

func (d *DevEmailDispatcher) SendCode(ctx context.Context, address string, code string, purpose entity.Purpose) error {
	d.store.Put(ctx, devotp.Key{Identifier: address, Purpose: purpose}, code, clockNow(d.clock).Add(EmailCodeTTL))
	if d.logger != nil {
		d.logger.WithFields(logrus.Fields{
			"identifier": utils.MaskIdentifier(address),
			"purpose":    purpose,
		}).Info("dev email code stored")
	}
	return nil
}

// DevPhoneDispatcher stands in for the phone vendor in dev mode. It never
// delegates, so the engine generates codes itself and hands them over here.
type DevPhoneDispatcher struct {
	store  devotp.Store
	clock  Clock
	logger logrus.FieldLogger
}

func NewDevPhoneDispatcher(store devotp.Store, clock Clock, logger logrus.FieldLogger) *DevPhoneDispatcher {
	return &DevPhoneDispatcher{store: store, clock: clock, logger: logger}
}

func (d *DevPhoneDispatcher) Delegated() bool { return false }

func (d *DevPhoneDispatcher) SendCode(ctx context.Context, phone string, via PhoneVia) error {
	return ErrDispatcherNotConfigured
}

func (d *DevPhoneDispatcher) VerifyCode(ctx context.Context, phone string, code string) (bool, error) {
	return false, nil
}

func (d *DevPhoneDispatcher) SendLocalCode(ctx context.Context, phone string, code string, purpose entity.Purpose, via PhoneVia) error {
	d.store.Put(ctx, devotp.Key{Identifier: phone, Purpose: purpose}, code, clockNow(d.clock).Add(PhoneCodeTTL))
	if d.logger != nil {
		d.logger.WithFields(logrus.Fields{
			"identifier": utils.MaskIdentifier(phone),
			"purpose":    purpose,
			"via":        via,
		}).Info("dev phone code stored")
	}
	return nil
}

// LogEmailDispatcher records that a code would have been mailed and reports
// the dispatcher as not configured. The code itself is dropped.
type LogEmailDispatcher struct {
	logger logrus.FieldLogger
}

func NewLogEmailDispatcher(logger logrus.FieldLogger) *LogEmailDispatcher {
	return &LogEmailDispatcher{logger: logger}
}

func (d *LogEmailDispatcher) SendCode(ctx context.Context, address string, code string, purpose entity.Purpose) error {
	if d.logger != nil {
		d.logger.WithFields(logrus.Fields{
			"identifier": utils.MaskIdentifier(address),
			"purpose":    purpose,
		}).Info("email provider disabled, code not sent")
	}
	return ErrDispatcherNotConfigured
}
