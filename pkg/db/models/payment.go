package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Payment is one attempt to collect an order's total through the gateway.
// Retries create new rows linked through ParentPaymentID.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index;uniqueIndex:ux_payments_order_success,where:status = 'captured' OR status = 'authorized'"`
	AmountMinor      int64               `gorm:"column:amount_minor;not null"`
	Currency         enums.Currency      `gorm:"column:currency;type:text;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Gateway          string              `gorm:"column:gateway;not null"`
	GatewayOrderID   *string             `gorm:"column:gateway_order_id;index"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id;uniqueIndex"`
	IdempotencyKey   string              `gorm:"column:idempotency_key;not null;uniqueIndex"`
	RetryCount       int                 `gorm:"column:retry_count;not null;default:0"`
	ParentPaymentID  *uuid.UUID          `gorm:"column:parent_payment_id;type:uuid"`
	Method           *string             `gorm:"column:method"`
	RiskScore        *int                `gorm:"column:risk_score"`
	RiskLevel        *enums.RiskLevel    `gorm:"column:risk_level;type:text"`
	FailureReason    *string             `gorm:"column:failure_reason"`
	RefundedMinor    int64               `gorm:"column:refunded_minor;not null;default:0"`
	AuthorizedAt     *time.Time          `gorm:"column:authorized_at"`
	CapturedAt       *time.Time          `gorm:"column:captured_at"`
	FailedAt         *time.Time          `gorm:"column:failed_at"`
	RefundedAt       *time.Time          `gorm:"column:refunded_at"`
	ArchivedAt       *time.Time          `gorm:"column:archived_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = uuid.NewString()
	}
	return nil
}

// IsSuccessful reports whether the payment holds funds for its order.
func (p Payment) IsSuccessful() bool {
	return p.Status == enums.PaymentStatusCaptured || p.Status == enums.PaymentStatusAuthorized
}
