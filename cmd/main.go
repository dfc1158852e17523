package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otpgate/api/handler"
	apiMiddleware "otpgate/api/middleware"
	"otpgate/api/routes"
	"otpgate/config"
	"otpgate/internal/devotp"
	"otpgate/internal/repository"
	"otpgate/internal/service"
	"otpgate/internal/worker"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	clock := service.RealClock{}

	var (
		tickets repository.VerificationTicketRepository
		users   repository.UserRepository
		events  repository.VerificationEventRepository
	)
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		tickets = repository.NewMemoryTicketRepository(clock.Now)
		users = repository.NewMemoryUserRepository()
	} else {
		db, err := config.ConnectionDb(cfg)
		if err != nil {
			logger.WithError(err).Fatal("database unavailable")
		}
		tickets = repository.NewVerificationTicketRepository(db, clock.Now)
		users = repository.NewUserRepository(db)
		events = repository.NewVerificationEventRepository(db)
	}

	var devCodes devotp.Store
	if cfg.OTPDevMode {
		logger.Warn("OTP_DEV_MODE enabled, codes are readable from GET /dev/otp")
		devCodes = devotp.NewMemoryStore(clock.Now)
	}

	emailDispatcher := newEmailDispatcher(cfg, devCodes, clock, logger)
	phoneDispatcher := newPhoneDispatcher(cfg, devCodes, clock, logger)

	verificationService := service.NewVerificationService(
		tickets,
		users,
		events,
		emailDispatcher,
		phoneDispatcher,
		service.BcryptPasswordHasher{Cost: cfg.BcryptCost},
		clock,
		logger,
		service.VerificationConfig{MaskUnknownAccounts: cfg.MaskUnknownAccounts},
	)

	limiter, closeLimiter := newLimiter(cfg, logger)
	defer closeLimiter()

	verificationHandler := handler.NewVerificationHandler(verificationService, validator.New(), devCodes)

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestID())
	app.Use(apiMiddleware.RequestContext(logger))
	app.Use(apiMiddleware.AccessLog(logger))

	router := routes.NewRouter(app, verificationHandler, limiter)
	router.RegisterRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := worker.NewTicketSweeper(tickets, logger, cfg.SweepSchedule, cfg.TicketRetention)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := app.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
	logger.Info("server stopped")
}

func newEmailDispatcher(cfg *config.Config, devCodes devotp.Store, clock service.Clock, logger *logrus.Logger) service.EmailDispatcher {
	if devCodes != nil {
		return service.NewDevEmailDispatcher(devCodes, clock, logger)
	}
	switch cfg.EmailProvider {
	case config.EmailProviderResend:
		return service.NewResendEmailDispatcher(cfg.ResendAPIKey, cfg.EmailFrom)
	case config.EmailProviderSMTP:
		return service.NewSMTPEmailDispatcher(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
	default:
		logger.Warn("EMAIL_PROVIDER=log, email codes will not be delivered")
		return service.NewLogEmailDispatcher(logger)
	}
}

func newPhoneDispatcher(cfg *config.Config, devCodes devotp.Store, clock service.Clock, logger *logrus.Logger) service.PhoneDispatcher {
	if cfg.TwilioConfigured() {
		return service.NewTwilioVerifyDispatcher(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVerifyServiceSID, cfg.TwilioBaseURL)
	}
	if devCodes != nil {
		return service.NewDevPhoneDispatcher(devCodes, clock, logger)
	}
	logger.Warn("phone vendor not configured and OTP_DEV_MODE off, phone codes cannot be delivered")
	return nil
}

func newLimiter(cfg *config.Config, logger *logrus.Logger) (apiMiddleware.Limiter, func()) {
	if cfg.HTTPRatePerSecond == 0 || cfg.HTTPRateBurst == 0 {
		return nil, func() {}
	}
	if cfg.RedisURL == "" {
		return apiMiddleware.NewRateLimiter(rate.Limit(cfg.HTTPRatePerSecond), cfg.HTTPRateBurst, 10*time.Minute), func() {}
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("invalid REDIS_URL")
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Fatal("redis unavailable")
	}

	// Fixed window sized so the quota over one minute matches the token bucket's sustained rate plus burst.
	quota := int(cfg.HTTPRatePerSecond*60) + cfg.HTTPRateBurst
	limiter := apiMiddleware.NewWindowLimiter(apiMiddleware.NewRedisCounter(client), "otpgate:http", time.Minute, quota)
	return limiter, func() { _ = client.Close() }
}
