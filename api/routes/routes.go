package routes

import (
	"otpgate/api/handler"
	"otpgate/api/middleware"

	"github.com/labstack/echo/v4"
)

type Router struct {
	Echo         *echo.Echo
	Verification *handler.VerificationHandler
	// Limiter throttles code endpoints per client IP. Nil disables it.
	Limiter middleware.Limiter
}

func NewRouter(e *echo.Echo, verificationHandler *handler.VerificationHandler, limiter middleware.Limiter) *Router {
	return &Router{
		Echo:         e,
		Verification: verificationHandler,
		Limiter:      limiter,
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	h := r.Verification

	var sendLimit, checkLimit []echo.MiddlewareFunc
	if r.Limiter != nil {
		sendLimit = append(sendLimit, middleware.Limit("send", r.Limiter))
		checkLimit = append(checkLimit, middleware.Limit("check", r.Limiter))
	}

	e.GET("/healthz", h.Health)

	e.POST("/verification/send", h.SendCode, sendLimit...)
	e.POST("/verification/verify", h.VerifyCode, checkLimit...)

	e.POST("/password/forgot", h.PasswordForgot, sendLimit...)
	e.POST("/password/verify-code", h.PasswordVerifyCode, checkLimit...)
	e.POST("/password/reset", h.PasswordReset, checkLimit...)

	if h.DevOTP != nil {
		e.GET("/dev/otp", h.DevCode)
	}
}
