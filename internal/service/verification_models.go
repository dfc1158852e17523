package service

import "otpgate/internal/entity"

type IssueInput struct {
	Channel    entity.Channel
	Identifier string
	Purpose    entity.Purpose
	Via        PhoneVia
	IPAddress  *string
}

type IssueResult struct {
	Message   string
	ExpiresIn int64
}

type VerifyInput struct {
	Channel    entity.Channel
	Identifier string
	Code       string
	Purpose    entity.Purpose
	IPAddress  *string
}

type VerifyResult struct {
	Verified bool
	// ExpiresIn is set by VerifyResetCode: seconds left to call ResetPassword.
	ExpiresIn int64
}

type ResetRequestInput struct {
	Identifier string
	Via        PhoneVia
	IPAddress  *string
}

type VerifyResetInput struct {
	Identifier string
	Code       string
	IPAddress  *string
}

type ResetPasswordInput struct {
	Identifier  string
	NewPassword string
	IPAddress   *string
}
