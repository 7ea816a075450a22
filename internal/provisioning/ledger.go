package provisioning

import (
	"context"

	"go.uber.org/zap"

	"realityshop/internal/models"
	"realityshop/internal/repository"
)

// DBLedger appends outcomes to the payment_events table.
type DBLedger struct {
	repo *repository.PaymentRepository
}

func NewDBLedger(repo *repository.PaymentRepository) *DBLedger {
	return &DBLedger{repo: repo}
}

func (l *DBLedger) Record(ctx context.Context, o Outcome) error {
	return l.repo.Create(context.WithoutCancel(ctx), toModel(o))
}

// LogLedger writes outcomes to the log only; used when no database is configured.
type LogLedger struct {
	logger *zap.Logger
}

func NewLogLedger(logger *zap.Logger) *LogLedger {
	return &LogLedger{logger: logger}
}

func (l *LogLedger) Record(_ context.Context, o Outcome) error {
	m := toModel(o)
	fields := []zap.Field{
		zap.String("key", m.IdempotencyKey),
		zap.String("status", m.Status),
		zap.String("action", m.Action),
		zap.Int64("user_id", m.UserID),
		zap.String("server", m.ServerID),
		zap.String("plan", m.PlanID),
		zap.Int("amount", m.Amount),
	}
	if m.LastError != "" {
		fields = append(fields, zap.String("error", m.LastError), zap.String("raw", m.Raw))
		l.logger.Error("payment ledger", fields...)
		return nil
	}
	l.logger.Info("payment ledger", fields...)
	return nil
}

func toModel(o Outcome) *models.PaymentEvent {
	m := &models.PaymentEvent{
		IdempotencyKey: o.Event.Key(),
		Provider:       o.Event.Provider,
		ProviderTxID:   o.Event.TxID,
		UserID:         o.Event.UserID,
		ServerID:       o.Event.ServerID,
		PlanID:         o.Event.PlanID,
		Amount:         o.Event.Amount,
		Action:         string(o.Action),
		AccessID:       o.AccessID,
		Raw:            o.Event.Raw,
		CreatedAt:      o.At,
	}
	if !o.Expiry.IsZero() {
		expiry := o.Expiry
		m.Expiry = &expiry
	}
	switch o.Action {
	case ActionCreate, ActionRenew:
		m.Status = models.PaymentEventProvisioned
	case ActionDuplicate:
		m.Status = models.PaymentEventDuplicate
	case ActionRejected:
		m.Status = models.PaymentEventRejected
	default:
		m.Status = models.PaymentEventFailed
	}
	if o.Err != nil {
		m.LastError = o.Err.Error()
		if IsRetryable(o.Err) {
			m.LastError = "[retryable] " + m.LastError
		}
	}
	return m
}
