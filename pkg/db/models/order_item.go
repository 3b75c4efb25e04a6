package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem is an immutable snapshot of a cart line. ReservedQty records how
// many units the payment transition actually reserved.
type OrderItem struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID           *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	LocationID          *uuid.UUID `gorm:"column:location_id;type:uuid"`
	TrackInventory      bool       `gorm:"column:track_inventory;not null;default:false"`
	Title               string     `gorm:"column:title;not null"`
	Handle              string     `gorm:"column:handle;not null"`
	ImageURL            *string    `gorm:"column:image_url"`
	SKU                 *string    `gorm:"column:sku"`
	Quantity            int        `gorm:"column:quantity;not null"`
	UnitPriceMinor      int64      `gorm:"column:unit_price_minor;not null"`
	CompareAtPriceMinor *int64     `gorm:"column:compare_at_price_minor"`
	SubtotalMinor       int64      `gorm:"column:subtotal_minor;not null"`
	ReservedQty         int        `gorm:"column:reserved_qty;not null;default:0"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
