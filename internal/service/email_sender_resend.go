package service

import (
	"context"
	"errors"
	"strings"

	"otpgate/internal/entity"

	"github.com/resend/resend-go/v2"
)

type ResendEmailDispatcher struct {
	From string
	send func(params *resend.SendEmailRequest) error
}

func NewResendEmailDispatcher(apiKey string, from string) *ResendEmailDispatcher {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendEmailDispatcher{}
	}
	client := resend.NewClient(apiKey)
	return &ResendEmailDispatcher{
		From: from,
		send: func(params *resend.SendEmailRequest) error {
			_, err := client.Emails.Send(params)
			return err
		},
	}
}

func (d *ResendEmailDispatcher) SendCode(ctx context.Context, address string, code string, purpose entity.Purpose) error {
	if d.send == nil {
		return ErrDispatcherNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	content := composeCodeEmail(code, purpose)
	err := d.send(&resend.SendEmailRequest{
		From:    d.From,
		To:      []string{address},
		Subject: content.Subject,
		Html:    content.HTML,
		Text:    content.Text,
	})
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	return nil
}
