package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const contextLoggerKey = "request_logger"

func SetRequestLogger(c echo.Context, entry *logrus.Entry) {
	c.Set(contextLoggerKey, entry)
}

// RequestLogger returns the entry stored by RequestContext, or the standard
// logger when the middleware did not run.
func RequestLogger(c echo.Context) logrus.FieldLogger {
	if entry, ok := c.Get(contextLoggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.StandardLogger()
}

// RequestContext attaches a logrus entry carrying the request ID and client IP.
func RequestContext(logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			SetRequestLogger(c, logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"remote_ip":  c.RealIP(),
			}))
			return next(c)
		}
	}
}
