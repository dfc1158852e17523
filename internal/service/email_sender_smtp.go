package service

import (
	"context"
	"fmt"
	"strings"

	"otpgate/internal/entity"

	"gopkg.in/gomail.v2"
)

type SMTPEmailDispatcher struct {
	from string
	send func(m *gomail.Message) error
}

func NewSMTPEmailDispatcher(host string, port int, user string, password string, from string) *SMTPEmailDispatcher {
	if strings.TrimSpace(host) == "" || strings.TrimSpace(from) == "" {
		return &SMTPEmailDispatcher{}
	}
	dialer := gomail.NewDialer(host, port, user, password)
	return &SMTPEmailDispatcher{
		from: from,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

func (d *SMTPEmailDispatcher) SendCode(ctx context.Context, address string, code string, purpose entity.Purpose) error {
	if d.send == nil {
		return ErrDispatcherNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	content := composeCodeEmail(code, purpose)

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", address)
	m.SetHeader("Subject", content.Subject)
	m.SetBody("text/plain", content.Text)
	m.AddAlternative("text/html", content.HTML)

	if err := d.send(m); err != nil {
		return fmt.Errorf("%w: smtp: %w", ErrDeliveryFailed, err)
	}
	return nil
}
