package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"realityshop/internal/pkg/httpclient"
)

// YooKassa payment statuses.
const (
	YooKassaPending   = "pending"
	YooKassaSucceeded = "succeeded"
	YooKassaCanceled  = "canceled"
)

// Metadata keys attached to every YooKassa payment.
const (
	MetaUserID    = "user_id"
	MetaServer    = "server"
	MetaPlan      = "subscription_type"
	MetaChatID    = "chat_id"
	MetaMessageID = "message_id"
	MetaEmail     = "user_email"
)

// YooKassaPayment is the authoritative state of a payment as reported by the API.
type YooKassaPayment struct {
	ID       string
	Status   string
	Paid     bool
	Amount   int
	Metadata map[string]string
}

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykReceiptItem struct {
	Description string   `json:"description"`
	Quantity    string   `json:"quantity"`
	Amount      ykAmount `json:"amount"`
	VatCode     int      `json:"vat_code"`
}

type ykReceipt struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []ykReceiptItem `json:"items"`
}

type ykCreateRequest struct {
	Amount       ykAmount `json:"amount"`
	Confirmation struct {
		Type      string `json:"type"`
		ReturnURL string `json:"return_url"`
	} `json:"confirmation"`
	Capture     bool              `json:"capture"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	Receipt     *ykReceipt        `json:"receipt,omitempty"`
}

type ykPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       ykAmount          `json:"amount"`
	Metadata     map[string]string `json:"metadata"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// YooKassaGateway implements the Gateway interface for YooKassa (API v3).
type YooKassaGateway struct {
	returnURL string
	client    *httpclient.Client
}

func NewYooKassaGateway(shopID, secretKey, baseURL, returnURL string, timeout time.Duration) *YooKassaGateway {
	return &YooKassaGateway{
		returnURL: returnURL,
		client: httpclient.New().
			WithTimeout(timeout).
			WithBaseURL(strings.TrimRight(baseURL, "/")).
			WithBasicAuth(shopID, secretKey).
			WithHeader("Content-Type", "application/json"),
	}
}

func (y *YooKassaGateway) Name() string {
	return "yookassa"
}

func (y *YooKassaGateway) CreatePayment(ctx context.Context, order Order) (*Invoice, error) {
	amount := ykAmount{Value: fmt.Sprintf("%d.00", order.Amount), Currency: "RUB"}

	body := ykCreateRequest{
		Amount:      amount,
		Capture:     true,
		Description: fmt.Sprintf("Подписка для пользователя %d на Туннелирования приватного трафика: %s", order.UserID, order.PlanTitle),
		Metadata: map[string]string{
			MetaPlan:      order.PlanID,
			MetaUserID:    strconv.FormatInt(order.UserID, 10),
			MetaServer:    order.ServerID,
			MetaChatID:    strconv.FormatInt(order.ChatID, 10),
			MetaMessageID: strconv.Itoa(order.MessageID),
			MetaEmail:     order.Email,
		},
	}
	body.Confirmation.Type = "redirect"
	body.Confirmation.ReturnURL = y.returnURL
	if order.Email != "" {
		r := &ykReceipt{Items: []ykReceiptItem{{
			Description: order.PlanTitle,
			Quantity:    "1",
			Amount:      amount,
			VatCode:     1,
		}}}
		r.Customer.Email = order.Email
		body.Receipt = r
	}

	// One key per logical payment so resty retries cannot create a second one.
	resp, err := y.client.Request().
		SetContext(ctx).
		SetHeader("Idempotence-Key", uuid.NewString()).
		SetBody(body).
		Post("/payments")
	if err != nil {
		return nil, fmt.Errorf("yookassa create payment failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yookassa create payment: status %d: %s", resp.StatusCode(), resp.String())
	}

	var p ykPayment
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, fmt.Errorf("yookassa parse error: %w", err)
	}
	if p.Confirmation.ConfirmationURL == "" {
		return nil, fmt.Errorf("yookassa payment %s: %w", p.ID, ErrNoLink)
	}

	return &Invoice{ID: p.ID, URL: p.Confirmation.ConfirmationURL}, nil
}

// FindPayment fetches a payment by id. Webhook bodies are never trusted on
// their own; this is the source of truth for status, amount and metadata.
func (y *YooKassaGateway) FindPayment(ctx context.Context, id string) (*YooKassaPayment, error) {
	resp, err := y.client.Request().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/payments/{id}")
	if err != nil {
		return nil, fmt.Errorf("yookassa find payment failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yookassa find payment %s: status %d", id, resp.StatusCode())
	}

	var p ykPayment
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, fmt.Errorf("yookassa find parse error: %w", err)
	}
	amount, err := parseAmount(p.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("yookassa payment %s: %w", id, err)
	}

	return &YooKassaPayment{
		ID:       p.ID,
		Status:   p.Status,
		Paid:     p.Paid,
		Amount:   amount,
		Metadata: p.Metadata,
	}, nil
}

// parseAmount converts "110.00" to whole rubles, dropping kopecks.
func parseAmount(v string) (int, error) {
	whole, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", v)
	}
	return n, nil
}
