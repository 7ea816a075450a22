// Package provisioning turns a confirmed payment into exactly one create or
// renew on the chosen server.
package provisioning

import (
	"errors"
	"time"
)

// Payment providers.
const (
	ProviderYooKassa    = "yookassa"
	ProviderCryptoCloud = "cryptocloud"
)

// ErrDuplicate is returned for an event whose key was already processed inside the window.
var ErrDuplicate = errors.New("payment already processed")

// PaymentConfirmed is the provider-neutral "payment succeeded" event.
type PaymentConfirmed struct {
	Provider  string
	TxID      string
	Amount    int
	PlanID    string
	UserID    int64
	ServerID  string
	ChatID    int64
	MessageID int
	// Raw is the provider reference as received, kept for reconciliation.
	Raw string
}

// Key is the idempotency key: provider and transaction id.
func (e PaymentConfirmed) Key() string {
	return e.Provider + ":" + e.TxID
}

// Action is what the engine did for an event.
type Action string

const (
	ActionCreate    Action = "create"
	ActionRenew     Action = "renew"
	ActionDuplicate Action = "duplicate"
	ActionFailed    Action = "failed"
	ActionRejected  Action = "rejected"
)

// Outcome is the result recorded in the ledger.
type Outcome struct {
	Event    PaymentConfirmed
	Action   Action
	AccessID string
	Expiry   time.Time
	Err      error
	At       time.Time
}
