package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is the durable record created from a cart. Rows are never deleted.
type Order struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       string                   `gorm:"column:order_number;not null;uniqueIndex"`
	CartID            *uuid.UUID               `gorm:"column:cart_id;type:uuid"`
	CustomerEmail     string                   `gorm:"column:customer_email;not null"`
	CustomerName      string                   `gorm:"column:customer_name;not null"`
	CustomerPhone     *string                  `gorm:"column:customer_phone"`
	Status            enums.OrderStatus        `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus     enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	FulfillmentStatus enums.FulfillmentStatus  `gorm:"column:fulfillment_status;type:text;not null;default:'unfulfilled'"`
	Currency          enums.Currency           `gorm:"column:currency;type:text;not null"`
	SubtotalMinor     int64                    `gorm:"column:subtotal_minor;not null"`
	TaxMinor          int64                    `gorm:"column:tax_minor;not null"`
	ShippingMinor     int64                    `gorm:"column:shipping_minor;not null"`
	DiscountMinor     int64                    `gorm:"column:discount_minor;not null;default:0"`
	TotalMinor        int64                    `gorm:"column:total_minor;not null"`
	TaxRateBps        int                      `gorm:"column:tax_rate_bps;not null"`
	ShippingMethod    string                   `gorm:"column:shipping_method;not null"`
	ShippingAddress   types.Address            `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	BillingAddress    *types.Address           `gorm:"column:billing_address;type:jsonb;serializer:json"`
	Items             []OrderItem              `gorm:"foreignKey:OrderID"`
	CancelledAt       *time.Time               `gorm:"column:cancelled_at"`
	ShippedAt         *time.Time               `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time               `gorm:"column:delivered_at"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// TotalsBalanced reports whether total = subtotal + tax + shipping - discount.
func (o Order) TotalsBalanced() bool {
	return o.TotalMinor == o.SubtotalMinor+o.TaxMinor+o.ShippingMinor-o.DiscountMinor
}
