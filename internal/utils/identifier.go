package utils

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// IsEmail reports whether identifier addresses the email channel.
func IsEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// NormalizePhone returns phone in E.164 form, or "" when it is not a
// possible number. The country code is required, written as "+" or as the
// "00" international prefix. Only ASCII digits and common separators are
// accepted.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return ""
		}
	}
	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}
	if !strings.HasPrefix(phone, "+") {
		return ""
	}
	number, err := phonenumbers.Parse(phone, "")
	if err != nil || !phonenumbers.IsPossibleNumber(number) {
		return ""
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// NormalizeIdentifier lower-cases emails and canonicalizes phone numbers.
func NormalizeIdentifier(identifier string) string {
	if IsEmail(identifier) {
		email := NormalizeEmail(identifier)
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return email
	}
	return NormalizePhone(identifier)
}

// MaskIdentifier keeps enough of an identifier to correlate log lines
// without writing the full address.
func MaskIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}
	if at := strings.LastIndex(identifier, "@"); at > 0 {
		return identifier[:1] + "***" + identifier[at:]
	}
	if len(identifier) <= 4 {
		return "***"
	}
	return "***" + identifier[len(identifier)-4:]
}
