package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"otpgate/api/middleware"
	"otpgate/internal/devotp"
	"otpgate/internal/dto"
	"otpgate/internal/entity"
	"otpgate/internal/service"
	"otpgate/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type VerificationHandler struct {
	Service  *service.VerificationService
	Validate *validator.Validate
	// DevOTP is nil unless dev OTP mode is enabled.
	DevOTP devotp.Store
}

func NewVerificationHandler(svc *service.VerificationService, validate *validator.Validate, devOTP devotp.Store) *VerificationHandler {
	return &VerificationHandler{Service: svc, Validate: validate, DevOTP: devOTP}
}

func (h *VerificationHandler) SendCode(c echo.Context) error {
	var req dto.SendVerificationRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.IssueInput{
		Channel:    entity.Channel(req.Channel),
		Identifier: req.Identifier,
		Purpose:    entity.Purpose(req.Purpose),
		Via:        service.PhoneVia(req.Via),
		IPAddress:  stringPtr(c.RealIP()),
	}
	result, err := h.Service.Issue(c.Request().Context(), input)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.IssueResponse{Message: result.Message, ExpiresIn: result.ExpiresIn})
}

func (h *VerificationHandler) VerifyCode(c echo.Context) error {
	var req dto.VerifyCodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.VerifyInput{
		Channel:    entity.Channel(req.Channel),
		Identifier: req.Identifier,
		Code:       req.Code,
		Purpose:    entity.Purpose(req.Purpose),
		IPAddress:  stringPtr(c.RealIP()),
	}
	result, err := h.Service.Verify(c.Request().Context(), input)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.VerifyResponse{Verified: result.Verified})
}

func (h *VerificationHandler) PasswordForgot(c echo.Context) error {
	var req dto.ForgotPasswordRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.ResetRequestInput{
		Identifier: req.Identifier,
		Via:        service.PhoneVia(req.Via),
		IPAddress:  stringPtr(c.RealIP()),
	}
	result, err := h.Service.RequestReset(c.Request().Context(), input)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.IssueResponse{Message: result.Message, ExpiresIn: result.ExpiresIn})
}

func (h *VerificationHandler) PasswordVerifyCode(c echo.Context) error {
	var req dto.VerifyResetCodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.VerifyResetInput{
		Identifier: req.Identifier,
		Code:       req.Code,
		IPAddress:  stringPtr(c.RealIP()),
	}
	result, err := h.Service.VerifyResetCode(c.Request().Context(), input)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.VerifyResponse{Verified: result.Verified, ExpiresIn: result.ExpiresIn})
}

func (h *VerificationHandler) PasswordReset(c echo.Context) error {
	var req dto.ResetPasswordRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.ResetPasswordInput{
		Identifier:  req.Identifier,
		NewPassword: req.NewPassword,
		IPAddress:   stringPtr(c.RealIP()),
	}
	if err := h.Service.ResetPassword(c.Request().Context(), input); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{Message: "password has been reset"})
}

// DevCode returns the latest locally generated code for an identifier and purpose.
func (h *VerificationHandler) DevCode(c echo.Context) error {
	if h.DevOTP == nil {
		return writeError(c, http.StatusNotFound, errors.New("not found"))
	}
	identifier := utils.NormalizeIdentifier(devIdentifier(c.QueryParam("identifier")))
	if identifier == "" {
		return writeError(c, http.StatusBadRequest, errors.New("identifier is required"))
	}
	purpose := entity.Purpose(c.QueryParam("purpose"))
	if !purpose.Valid() {
		return writeError(c, http.StatusBadRequest, errors.New("purpose must be account_verification or password_reset"))
	}
	code, ok := h.DevOTP.Get(c.Request().Context(), devotp.Key{Identifier: identifier, Purpose: purpose})
	if !ok {
		return writeError(c, http.StatusNotFound, errors.New("no code for identifier"))
	}
	return c.JSON(http.StatusOK, dto.DevOTPResponse{Identifier: identifier, Purpose: string(purpose), Code: code})
}

// devIdentifier restores the "+" of a phone number sent unencoded in the
// query string, where it arrives as a space.
func devIdentifier(raw string) string {
	if strings.HasPrefix(raw, " ") && !utils.IsEmail(raw) {
		return "+" + strings.TrimSpace(raw)
	}
	return raw
}

func (h *VerificationHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *VerificationHandler) bind(c echo.Context, target any) error {
	if err := decodeJSON(c, target); err != nil {
		return errors.New("invalid request body")
	}
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(target)
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidOrExpired):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrWeakPassword):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrTooManyAttempts):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrDeliveryFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		middleware.RequestLogger(c).WithError(err).Error("request failed")
		return writeError(c, status, errors.New("internal error"))
	}
	return writeError(c, status, err)
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
