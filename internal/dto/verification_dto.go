package dto

type SendVerificationRequest struct {
	Channel    string `json:"channel" validate:"required,oneof=email phone"`
	Identifier string `json:"identifier" validate:"required,max=255"`
	Purpose    string `json:"purpose" validate:"required,oneof=account_verification password_reset"`
	Via        string `json:"via" validate:"omitempty,oneof=sms whatsapp"`
}

type VerifyCodeRequest struct {
	Channel    string `json:"channel" validate:"required,oneof=email phone"`
	Identifier string `json:"identifier" validate:"required,max=255"`
	Code       string `json:"code" validate:"required,max=16"`
	Purpose    string `json:"purpose" validate:"required,oneof=account_verification password_reset"`
}

type ForgotPasswordRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Via        string `json:"via" validate:"omitempty,oneof=sms whatsapp"`
}

type VerifyResetCodeRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Code       string `json:"code" validate:"required,max=16"`
}

// ResetPasswordRequest leaves the length rule to the engine so a short
// password maps to 422 rather than a generic validation failure.
type ResetPasswordRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=255"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

type IssueResponse struct {
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expires_in"`
}

type VerifyResponse struct {
	Verified  bool  `json:"verified"`
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type DevOTPResponse struct {
	Identifier string `json:"identifier"`
	Purpose    string `json:"purpose"`
	Code       string `json:"code"`
}
