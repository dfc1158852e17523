package worker

import (
	"context"
	"time"

	"otpgate/internal/repository"
	"otpgate/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const fallbackSchedule = "@every 5m"

// TicketSweeper periodically deletes tickets that expired more than
// retention ago. Retention never drops below the issuance rate-limit window,
// since rate limiting counts recent tickets whether or not they expired.
type TicketSweeper struct {
	tickets   repository.VerificationTicketRepository
	logger    logrus.FieldLogger
	schedule  string
	retention time.Duration
	now       func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewTicketSweeper(
	tickets repository.VerificationTicketRepository,
	logger logrus.FieldLogger,
	schedule string,
	retention time.Duration,
) *TicketSweeper {
	if retention < service.RateLimitWindow {
		retention = service.RateLimitWindow
	}
	if schedule == "" {
		schedule = fallbackSchedule
	}
	return &TicketSweeper{
		tickets:   tickets,
		logger:    logger,
		schedule:  schedule,
		retention: retention,
		now:       time.Now,
	}
}

func (w *TicketSweeper) Start(ctx context.Context) {
	var runCtx context.Context
	runCtx, w.cancel = context.WithCancel(ctx)

	c := cron.New()
	_, err := c.AddFunc(w.schedule, func() { w.runOnce(runCtx) })
	if err != nil {
		w.logger.WithError(err).WithField("schedule", w.schedule).Warn("invalid sweep schedule, using " + fallbackSchedule)
		c = cron.New()
		_, _ = c.AddFunc(fallbackSchedule, func() { w.runOnce(runCtx) })
	}
	c.Start()
	w.cron = c
}

// Stop cancels any running sweep and waits for it to return.
func (w *TicketSweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

func (w *TicketSweeper) runOnce(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.tickets.DeleteExpired(ctx, cutoff)
	if err != nil {
		w.logger.WithError(err).Warn("ticket sweep failed")
		return 0
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired tickets swept")
	}
	return deleted
}
