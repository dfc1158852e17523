package service

import (
	"fmt"

	"otpgate/internal/entity"
)

type emailContent struct {
	Subject string
	HTML    string
	Text    string
}

func composeCodeEmail(code string, purpose entity.Purpose) emailContent {
	minutes := int(EmailCodeTTL.Minutes())
	if purpose == entity.PurposePasswordReset {
		return emailContent{
			Subject: "Your password reset code",
			HTML: fmt.Sprintf("<h3>Password reset requested</h3><p>Your code is <strong>%s</strong>. It expires in %d minutes.</p>"+
				"<p>If you did not request this change, you can ignore this email.</p>", code, minutes),
			Text: fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.", code, minutes),
		}
	}
	return emailContent{
		Subject: "Your verification code",
		HTML:    fmt.Sprintf("<p>Your verification code is <strong>%s</strong>. It expires in %d minutes.</p>", code, minutes),
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
	}
}
