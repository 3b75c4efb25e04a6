package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryLevel tracks available/reserved counts per variant and location.
type InventoryLevel struct {
	VariantID    uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	LocationID   uuid.UUID `gorm:"column:location_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
