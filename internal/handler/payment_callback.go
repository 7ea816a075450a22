package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"realityshop/internal/metrics"
	"realityshop/internal/middleware"
	"realityshop/internal/orderref"
	"realityshop/internal/payment"
	"realityshop/internal/provisioning"
)

// ErrNonActionable marks a notification that is valid but does not confirm a payment.
var ErrNonActionable = errors.New("non-actionable payment notification")

// Provisioner is the provisioning engine as seen by the webhooks.
type Provisioner interface {
	Handle(ctx context.Context, ev provisioning.PaymentConfirmed) (provisioning.Outcome, error)
	Reject(ctx context.Context, provider, raw string, reason error)
}

// PaymentFinder looks up the authoritative state of a YooKassa payment.
type PaymentFinder interface {
	FindPayment(ctx context.Context, id string) (*payment.YooKassaPayment, error)
}

// TokenVerifier checks the token attached to CryptoCloud postbacks.
type TokenVerifier interface {
	VerifyToken(token string) error
}

// PaymentCallbackHandler handles gateway callbacks.
type PaymentCallbackHandler struct {
	engine   Provisioner
	yookassa PaymentFinder
	crypto   TokenVerifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPaymentCallbackHandler creates a new payment callback handler. timeout
// bounds provisioning of one event; it runs detached from the request so a
// provider hanging up does not abort a half-done create.
func NewPaymentCallbackHandler(
	engine Provisioner,
	yookassa PaymentFinder,
	crypto TokenVerifier,
	timeout time.Duration,
	logger *zap.Logger,
) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		engine:   engine,
		yookassa: yookassa,
		crypto:   crypto,
		timeout:  timeout,
		logger:   logger,
	}
}

type webhookReply struct {
	Status string `json:"status"`
}

func (h *PaymentCallbackHandler) reply(c echo.Context, provider, status string) error {
	metrics.IncWebhook(provider, status)
	return c.JSON(http.StatusOK, webhookReply{Status: status})
}

// ── YooKassa ─────────────────────────────────────────────────────────

type yookassaNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"object"`
}

func (h *PaymentCallbackHandler) YooKassaWebhook(c echo.Context) error {
	const provider = provisioning.ProviderYooKassa
	raw := middleware.RawBody(c)

	var n yookassaNotification
	if err := c.Bind(&n); err != nil || n.Object.ID == "" {
		h.engine.Reject(c.Request().Context(), provider, raw, fmt.Errorf("invalid notification body: %v", err))
		return h.reply(c, provider, "rejected")
	}

	log := h.logger.With(zap.String("provider", provider), zap.String("payment_id", n.Object.ID))

	if n.Event != "payment.succeeded" {
		log.Info("YooKassa notification ignored", zap.String("event", n.Event), zap.Error(ErrNonActionable))
		return h.reply(c, provider, "ignored")
	}

	// The body is only a hint; the API is the source of truth.
	p, err := h.yookassa.FindPayment(c.Request().Context(), n.Object.ID)
	if err != nil {
		log.Error("YooKassa payment lookup failed", zap.Error(err))
		metrics.IncWebhook(provider, "error")
		// Nothing was provisioned yet, so a provider retry is safe.
		return c.JSON(http.StatusInternalServerError, webhookReply{Status: "error"})
	}
	if p.Status != payment.YooKassaSucceeded {
		log.Info("YooKassa payment not succeeded", zap.String("status", p.Status), zap.Error(ErrNonActionable))
		return h.reply(c, provider, "ignored")
	}

	ev, err := eventFromMetadata(p)
	if err != nil {
		h.engine.Reject(c.Request().Context(), provider, raw, err)
		return h.reply(c, provider, "rejected")
	}
	ev.Raw = raw

	return h.provision(c, ev)
}

func eventFromMetadata(p *payment.YooKassaPayment) (provisioning.PaymentConfirmed, error) {
	ev := provisioning.PaymentConfirmed{
		Provider: provisioning.ProviderYooKassa,
		TxID:     p.ID,
		Amount:   p.Amount,
	}
	md := p.Metadata
	var err error

	if ev.UserID, err = strconv.ParseInt(md[payment.MetaUserID], 10, 64); err != nil || ev.UserID <= 0 {
		return ev, fmt.Errorf("payment %s: invalid metadata %s=%q", p.ID, payment.MetaUserID, md[payment.MetaUserID])
	}
	if ev.ServerID = md[payment.MetaServer]; ev.ServerID == "" {
		return ev, fmt.Errorf("payment %s: missing metadata %s", p.ID, payment.MetaServer)
	}
	if ev.PlanID = md[payment.MetaPlan]; ev.PlanID == "" {
		return ev, fmt.Errorf("payment %s: missing metadata %s", p.ID, payment.MetaPlan)
	}
	if ev.ChatID, err = strconv.ParseInt(md[payment.MetaChatID], 10, 64); err != nil {
		return ev, fmt.Errorf("payment %s: invalid metadata %s=%q", p.ID, payment.MetaChatID, md[payment.MetaChatID])
	}
	if ev.MessageID, err = strconv.Atoi(md[payment.MetaMessageID]); err != nil {
		return ev, fmt.Errorf("payment %s: invalid metadata %s=%q", p.ID, payment.MetaMessageID, md[payment.MetaMessageID])
	}
	return ev, nil
}

// ── CryptoCloud ──────────────────────────────────────────────────────

func (h *PaymentCallbackHandler) CryptoCloudWebhook(c echo.Context) error {
	const provider = provisioning.ProviderCryptoCloud

	status := c.FormValue("status")
	orderID := c.FormValue("order_id")
	log := h.logger.With(
		zap.String("provider", provider),
		zap.String("invoice_id", c.FormValue("invoice_id")),
		zap.String("order_id", orderID),
	)

	if status != "success" {
		log.Info("CryptoCloud postback ignored", zap.String("status", status), zap.Error(ErrNonActionable))
		return h.reply(c, provider, "ignored")
	}

	if err := h.crypto.VerifyToken(c.FormValue("token")); err != nil {
		h.engine.Reject(c.Request().Context(), provider, orderID, err)
		return h.reply(c, provider, "rejected")
	}

	ref, err := orderref.Decode(orderID)
	if err != nil {
		h.engine.Reject(c.Request().Context(), provider, orderID, err)
		return h.reply(c, provider, "rejected")
	}

	// The postback carries no fiat amount; revenue is booked from the YooKassa side only.
	return h.provision(c, provisioning.PaymentConfirmed{
		Provider:  provider,
		TxID:      ref.Nonce,
		PlanID:    ref.PlanID,
		UserID:    ref.UserID,
		ServerID:  ref.ServerID,
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Raw:       orderID,
	})
}

// provision always answers 200: the outcome is recorded, and a provider
// retry after a partial backend write could not be told apart from a new payment.
func (h *PaymentCallbackHandler) provision(c echo.Context, ev provisioning.PaymentConfirmed) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), h.timeout)
	defer cancel()

	out, err := h.engine.Handle(ctx, ev)
	switch {
	case errors.Is(err, provisioning.ErrDuplicate):
		return h.reply(c, ev.Provider, "duplicate")
	case err != nil:
		h.logger.Error("Payment accepted but provisioning failed",
			zap.String("provider", ev.Provider),
			zap.String("payment_id", ev.TxID),
			zap.Error(err),
		)
		return h.reply(c, ev.Provider, "failed")
	}

	h.logger.Info("Payment provisioned",
		zap.String("provider", ev.Provider),
		zap.String("payment_id", ev.TxID),
		zap.String("action", string(out.Action)),
	)
	return h.reply(c, ev.Provider, "success")
}
