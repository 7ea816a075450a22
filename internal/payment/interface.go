package payment

import (
	"context"
	"errors"
)

// ErrNoLink is returned when a provider accepted the request but gave no payment link.
var ErrNoLink = errors.New("payment provider returned no link")

// Order describes what the user is paying for.
type Order struct {
	Amount    int
	PlanID    string
	PlanTitle string
	UserID    int64
	ServerID  string
	ChatID    int64
	MessageID int
	// Email is required by providers that send a fiscal receipt.
	Email string
}

// Invoice contains the result of a payment creation.
type Invoice struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway defines the interface for payment gateway implementations.
type Gateway interface {
	// Name returns the gateway identifier.
	Name() string

	// CreatePayment initiates a new payment and returns the link the user pays on.
	CreatePayment(ctx context.Context, order Order) (*Invoice, error)
}
