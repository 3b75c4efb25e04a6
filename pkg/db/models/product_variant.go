package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// ProductVariant is the purchasable unit. The pipeline only reads it.
type ProductVariant struct {
	ID                  uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	ProductID           uuid.UUID      `gorm:"column:product_id;type:uuid;not null;index"`
	Title               string         `gorm:"column:title;not null"`
	Handle              string         `gorm:"column:handle;not null"`
	ImageURL            *string        `gorm:"column:image_url"`
	SKU                 *string        `gorm:"column:sku"`
	PriceMinor          int64          `gorm:"column:price_minor;not null"`
	CompareAtPriceMinor *int64         `gorm:"column:compare_at_price_minor"`
	Currency            enums.Currency `gorm:"column:currency;type:text;not null"`
	TrackInventory      bool           `gorm:"column:track_inventory;not null;default:true"`
	LocationID          uuid.UUID      `gorm:"column:location_id;type:uuid;not null"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
