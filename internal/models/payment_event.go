package models

import "time"

// Payment event statuses.
const (
	PaymentEventProvisioned = "provisioned"
	PaymentEventDuplicate   = "duplicate"
	PaymentEventRejected    = "rejected"
	PaymentEventFailed      = "failed"
)

// PaymentEvent is one processed payment notification. Rows are append-only;
// failed and rejected rows are the manual review queue.
type PaymentEvent struct {
	ID             uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IdempotencyKey string     `gorm:"column:idempotency_key;size:255;index:idx_payment_events_key" json:"idempotency_key"`
	Provider       string     `gorm:"column:provider;size:30" json:"provider"`
	ProviderTxID   string     `gorm:"column:provider_tx_id;size:255" json:"provider_tx_id"`
	UserID         int64      `gorm:"column:user_id;index:idx_payment_events_user" json:"user_id"`
	ServerID       string     `gorm:"column:server_id;size:100" json:"server_id"`
	PlanID         string     `gorm:"column:plan_id;size:50" json:"plan_id"`
	Amount         int        `gorm:"column:amount" json:"amount"`
	Status         string     `gorm:"column:status;size:30;index:idx_payment_events_status_reported,priority:1" json:"status"`
	Action         string     `gorm:"column:action;size:30" json:"action"`
	AccessID       string     `gorm:"column:access_id;size:64" json:"access_id"`
	Expiry         *time.Time `gorm:"column:expiry" json:"expiry"`
	Raw            string     `gorm:"column:raw;type:text" json:"raw"`
	LastError      string     `gorm:"column:last_error;type:text" json:"last_error"`
	Reported       bool       `gorm:"column:reported;default:false;index:idx_payment_events_status_reported,priority:2" json:"reported"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_events"
}
