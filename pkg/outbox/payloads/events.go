package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout persists a new order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID      `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	PaymentID   uuid.UUID      `json:"payment_id"`
	TotalMinor  int64          `json:"total_minor"`
	Currency    enums.Currency `json:"currency"`
	ItemCount   int            `json:"item_count"`
}

// PaymentStatusEvent covers authorized, captured, failed and refunded
// transitions of a payment.
type PaymentStatusEvent struct {
	OrderID          uuid.UUID           `json:"order_id"`
	PaymentID        uuid.UUID           `json:"payment_id"`
	Status           enums.PaymentStatus `json:"status"`
	AmountMinor      int64               `json:"amount_minor"`
	Currency         enums.Currency      `json:"currency"`
	GatewayPaymentID string              `json:"gateway_payment_id,omitempty"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	RetryCount       int                 `json:"retry_count"`
}

// PaymentRetryScheduledEvent is emitted when the retry scheduler opens a new
// attempt for a failed order.
type PaymentRetryScheduledEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	ParentPaymentID uuid.UUID `json:"parent_payment_id"`
	RetryCount      int       `json:"retry_count"`
	GatewayOrderID  string    `json:"gateway_order_id"`
}

// InventoryShortfall is one order line that could not be fully reserved.
type InventoryShortfall struct {
	VariantID  uuid.UUID `json:"variant_id"`
	LocationID uuid.UUID `json:"location_id"`
	Requested  int       `json:"requested"`
	Reserved   int       `json:"reserved"`
}

// InventoryOversoldEvent flags a paid order whose stock ran short.
type InventoryOversoldEvent struct {
	OrderID    uuid.UUID            `json:"order_id"`
	PaymentID  uuid.UUID            `json:"payment_id"`
	Shortfalls []InventoryShortfall `json:"shortfalls"`
}

// ReservationReleasedEvent reports stock returned to availability.
type ReservationReleasedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	Reason   string    `json:"reason"`
	Released int       `json:"released"`
}

// OrderStatusEvent covers cancelled, shipped and delivered transitions.
type OrderStatusEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	OccurredAt time.Time         `json:"occurred_at"`
	Reason     string            `json:"reason,omitempty"`
}
