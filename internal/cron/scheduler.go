package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"realityshop/internal/models"
)

// PanelRefresher re-establishes panel sessions.
type PanelRefresher interface {
	Unavailable() []string
	LoginUnavailable(ctx context.Context) error
}

// FailureLedger is the manual review queue.
type FailureLedger interface {
	FindUnreported(ctx context.Context, limit int) ([]models.PaymentEvent, error)
	MarkReported(ctx context.Context, ids []uint) error
}

// Notifier delivers text to a chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	panels   PanelRefresher
	failures FailureLedger
	notifier Notifier
	adminID  int64
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a new cron scheduler. failures may be nil when no database is
// configured; the report job is then not scheduled.
func New(panels PanelRefresher, failures FailureLedger, notifier Notifier, adminID int64, timeout time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		panels:   panels,
		failures: failures,
		notifier: notifier,
		adminID:  adminID,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler...")

	// Panel session check - every 5 minutes
	s.cron.AddFunc("0 */5 * * * *", func() {
		s.logger.Debug("Running: panel session check")
		s.panelSessionCheck()
	})

	// Failed payment report - every hour
	if s.failures != nil && s.notifier != nil && s.adminID != 0 {
		s.cron.AddFunc("0 0 * * * *", func() {
			s.logger.Debug("Running: failed payment report")
			s.failedPaymentReport()
		})
	} else {
		s.logger.Info("Failed payment report disabled (needs database, bot token and admin id)")
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) panelSessionCheck() {
	defer s.recoverFromPanic("panelSessionCheck")

	down := s.panels.Unavailable()
	if len(down) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.panels.LoginUnavailable(ctx); err != nil {
		s.logger.Warn("Panels still unavailable", zap.Strings("servers", s.panels.Unavailable()), zap.Error(err))
		return
	}
	s.logger.Info("Panel sessions restored", zap.Strings("servers", down))
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
