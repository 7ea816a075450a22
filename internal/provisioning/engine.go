package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"realityshop/internal/idempotency"
	"realityshop/internal/metrics"
	"realityshop/internal/panel"
	"realityshop/internal/pricing"
)

// Backend is the part of the server directory the engine drives.
type Backend interface {
	Find(ctx context.Context, serverID string, userID int64) (*panel.Subscription, error)
	CreateClient(ctx context.Context, serverID string, userID int64, duration time.Duration) (panel.ClientAccess, string, error)
	Renew(ctx context.Context, serverID, clientID string, duration time.Duration) (panel.ClientAccess, error)
}

// Messenger edits the checkout message the user is looking at.
type Messenger interface {
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
}

// Ledger stores outcomes for reconciliation.
type Ledger interface {
	Record(ctx context.Context, o Outcome) error
}

const (
	msgCreated      = "✅ Оплата успешна!\nКонфигурация:\n`%s`"
	msgCreatedNoKey = "✅ Оплата успешна!\nКлюч доступен в разделе «📊 Статус подписки»."
	msgRenewed      = "✅ Ваша подписка успешно продлена!\n📅 Действует до: %s"
	msgFailed       = "❌ Оплата получена, но выдать доступ не удалось.\nНапишите в поддержку и укажите номер платежа:\n`%s`"
)

// Engine is safe for concurrent use.
type Engine struct {
	backend   Backend
	messenger Messenger
	ledger    Ledger
	deduper   idempotency.Deduper
	locker    idempotency.Locker
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(
	backend Backend,
	messenger Messenger,
	ledger Ledger,
	deduper idempotency.Deduper,
	locker idempotency.Locker,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		backend:   backend,
		messenger: messenger,
		ledger:    ledger,
		deduper:   deduper,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle provisions access for a confirmed payment. Duplicates inside the
// window return ErrDuplicate without touching the backend. Backend failures
// are not retried: they are logged, recorded for manual review and reported
// to the user.
func (e *Engine) Handle(ctx context.Context, ev PaymentConfirmed) (Outcome, error) {
	log := e.logger.With(
		zap.String("provider", ev.Provider),
		zap.String("payment_id", ev.TxID),
		zap.Int64("user_id", ev.UserID),
		zap.String("server", ev.ServerID),
		zap.String("plan", ev.PlanID),
	)

	seen, err := e.deduper.Seen(ctx, ev.Key())
	if err != nil {
		// Fail closed: without the window we cannot tell a retry from a new payment.
		return e.fail(ctx, log, ev, fmt.Errorf("idempotency store: %w", err))
	}
	if seen {
		log.Info("Duplicate payment notification ignored")
		out := e.finish(ctx, log, Outcome{Event: ev, Action: ActionDuplicate})
		return out, ErrDuplicate
	}

	plan, err := pricing.LookupPlan(ev.PlanID)
	if err != nil {
		return e.fail(ctx, log, ev, err)
	}

	out, text, err := e.provision(ctx, log, ev, plan)
	if err != nil {
		return e.fail(ctx, log, ev, err)
	}

	e.notify(ctx, log, ev, text)
	metrics.AddRevenue(ev.Provider, ev.Amount)
	return e.finish(ctx, log, out), nil
}

// provision runs the read-decide-write step under the (user, server) lock.
func (e *Engine) provision(ctx context.Context, log *zap.Logger, ev PaymentConfirmed, plan pricing.Plan) (Outcome, string, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(ev.UserID, ev.ServerID))
	if err != nil {
		return Outcome{}, "", err
	}
	defer unlock()

	sub, err := e.backend.Find(ctx, ev.ServerID, ev.UserID)
	if err != nil {
		return Outcome{}, "", fmt.Errorf("resolve subscription: %w", err)
	}

	if sub != nil {
		access, err := e.backend.Renew(ctx, ev.ServerID, sub.AccessID, plan.Duration)
		if err != nil {
			return Outcome{}, "", fmt.Errorf("renew: %w", err)
		}
		log.Info("Subscription renewed", zap.String("access_id", access.ID), zap.Time("expiry", access.Expiry))
		out := Outcome{Event: ev, Action: ActionRenew, AccessID: access.ID, Expiry: access.Expiry}
		return out, fmt.Sprintf(msgRenewed, access.Expiry.Format("2006-01-02 15:04")), nil
	}

	access, conn, err := e.backend.CreateClient(ctx, ev.ServerID, ev.UserID, plan.Duration)
	if err != nil && access.ID == "" {
		return Outcome{}, "", fmt.Errorf("create: %w", err)
	}
	out := Outcome{Event: ev, Action: ActionCreate, AccessID: access.ID, Expiry: access.Expiry}
	if err != nil {
		// The client exists; only the key material read failed.
		log.Warn("Client created without connection string", zap.String("access_id", access.ID), zap.Error(err))
		out.Err = err
		return out, msgCreatedNoKey, nil
	}
	log.Info("Client created", zap.String("access_id", access.ID), zap.Time("expiry", access.Expiry))
	return out, fmt.Sprintf(msgCreated, conn), nil
}

func (e *Engine) fail(ctx context.Context, log *zap.Logger, ev PaymentConfirmed, err error) (Outcome, error) {
	log.Error("Provisioning failed, manual review required", zap.Error(err))
	e.notify(ctx, log, ev, fmt.Sprintf(msgFailed, ev.Key()))
	out := e.finish(ctx, log, Outcome{Event: ev, Action: ActionFailed, Err: err})
	return out, err
}

func (e *Engine) finish(ctx context.Context, log *zap.Logger, out Outcome) Outcome {
	out.At = e.now()
	metrics.IncProvisioning(out.Event.Provider, string(out.Action))
	if err := e.ledger.Record(ctx, out); err != nil {
		log.Error("Failed to record payment outcome", zap.String("action", string(out.Action)), zap.Error(err))
	}
	return out
}

// notify is fire-and-forget.
func (e *Engine) notify(ctx context.Context, log *zap.Logger, ev PaymentConfirmed, text string) {
	if ev.ChatID == 0 || ev.MessageID == 0 {
		log.Warn("No chat reference on payment, user not notified")
		return
	}
	if err := e.messenger.EditMessage(ctx, ev.ChatID, ev.MessageID, text); err != nil {
		log.Warn("Failed to deliver provisioning message", zap.Error(err))
	}
}

// Reject records a notification that could not be turned into an event.
func (e *Engine) Reject(ctx context.Context, provider, raw string, reason error) {
	log := e.logger.With(zap.String("provider", provider))
	log.Warn("Payment notification rejected", zap.String("raw", raw), zap.Error(reason))
	e.finish(ctx, log, Outcome{
		Event:  PaymentConfirmed{Provider: provider, Raw: raw},
		Action: ActionRejected,
		Err:    reason,
	})
}

func lockKey(userID int64, serverID string) string {
	return strconv.FormatInt(userID, 10) + ":" + serverID
}

// IsRetryable reports whether a failed outcome came from a transient backend problem.
func IsRetryable(err error) bool {
	return errors.Is(err, panel.ErrServerUnavailable) || errors.Is(err, idempotency.ErrLockTimeout)
}
