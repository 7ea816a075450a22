package repository

import (
	"context"

	"gorm.io/gorm"

	"realityshop/internal/models"
)

// PaymentRepository handles the payment event ledger.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create appends an event.
func (r *PaymentRepository) Create(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// FindByKey returns every row recorded for an idempotency key, oldest first.
func (r *PaymentRepository) FindByKey(ctx context.Context, key string) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Order("id ASC").Find(&events).Error
	return events, err
}

// FindUnreported returns failed or rejected events not yet sent to the admin.
func (r *PaymentRepository) FindUnreported(ctx context.Context, limit int) ([]models.PaymentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND reported = ?", []string{models.PaymentEventFailed, models.PaymentEventRejected}, false).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkReported flags events as sent to the admin.
func (r *PaymentRepository) MarkReported(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.PaymentEvent{}).Where("id IN ?", ids).Update("reported", true).Error
}
