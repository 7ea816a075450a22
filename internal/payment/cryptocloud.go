package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"realityshop/internal/orderref"
	"realityshop/internal/pkg/httpclient"
)

// ErrInvalidToken is returned when a postback token does not verify.
var ErrInvalidToken = errors.New("cryptocloud: invalid postback token")

// CryptoCloudGateway implements the Gateway interface for CryptoCloud (API v2).
// The order reference carries everything needed to provision, because
// postbacks carry nothing else.
type CryptoCloudGateway struct {
	shopID string
	secret []byte
	client *httpclient.Client
}

func NewCryptoCloudGateway(apiKey, shopID, secret, baseURL string, timeout time.Duration) *CryptoCloudGateway {
	g := &CryptoCloudGateway{
		shopID: shopID,
		client: httpclient.New().
			WithTimeout(timeout).
			WithRetries(0).
			WithBaseURL(strings.TrimRight(baseURL, "/")).
			WithHeader("Authorization", "Token "+apiKey).
			WithHeader("Content-Type", "application/json"),
	}
	if secret != "" {
		g.secret = []byte(secret)
	}
	return g
}

func (c *CryptoCloudGateway) Name() string {
	return "cryptocloud"
}

func (c *CryptoCloudGateway) CreatePayment(ctx context.Context, order Order) (*Invoice, error) {
	ref := orderref.New(order.UserID, order.ServerID, order.PlanID, order.ChatID, order.MessageID)
	orderID, err := orderref.Encode(ref)
	if err != nil {
		return nil, fmt.Errorf("cryptocloud order reference: %w", err)
	}

	body := map[string]interface{}{
		"amount":   strconv.Itoa(order.Amount),
		"shop_id":  c.shopID,
		"currency": "RUB",
		"order_id": orderID,
	}

	resp, err := c.client.Request().
		SetContext(ctx).
		SetBody(body).
		Post("/invoice/create")
	if err != nil {
		return nil, fmt.Errorf("cryptocloud create invoice failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cryptocloud create invoice: status %d: %s", resp.StatusCode(), resp.String())
	}

	var result struct {
		Status string `json:"status"`
		Result struct {
			UUID string `json:"uuid"`
			Link string `json:"link"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("cryptocloud parse error: %w", err)
	}
	if result.Result.Link == "" {
		return nil, fmt.Errorf("cryptocloud invoice for %s: %w", ref.Nonce, ErrNoLink)
	}

	return &Invoice{ID: result.Result.UUID, URL: result.Result.Link}, nil
}

// VerifyToken checks the HS256 token CryptoCloud attaches to postbacks.
// Without a configured secret every token is accepted.
func (c *CryptoCloudGateway) VerifyToken(token string) error {
	if c.secret == nil {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: missing", ErrInvalidToken)
	}
	tkn, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
