package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartItem snapshots variant details at the time the line was added.
type CartItem struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID              uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_variant"`
	VariantID           uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_variant"`
	Title               string    `gorm:"column:title;not null"`
	Handle              string    `gorm:"column:handle;not null"`
	ImageURL            *string   `gorm:"column:image_url"`
	SKU                 *string   `gorm:"column:sku"`
	Quantity            int       `gorm:"column:quantity;not null"`
	UnitPriceMinor      int64     `gorm:"column:unit_price_minor;not null"`
	CompareAtPriceMinor *int64    `gorm:"column:compare_at_price_minor"`
	SubtotalMinor       int64     `gorm:"column:subtotal_minor;not null"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
