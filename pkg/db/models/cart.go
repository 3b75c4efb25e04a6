package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Cart is an anonymous shopping cart addressed by an opaque token.
type Cart struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Token         string           `gorm:"column:token;not null;uniqueIndex"`
	Status        enums.CartStatus `gorm:"column:status;type:text;not null;default:'active'"`
	Currency      enums.Currency   `gorm:"column:currency;type:text;not null"`
	SubtotalMinor int64            `gorm:"column:subtotal_minor;not null;default:0"`
	TaxMinor      int64            `gorm:"column:tax_minor;not null;default:0"`
	TotalMinor    int64            `gorm:"column:total_minor;not null;default:0"`
	ExpiresAt     time.Time        `gorm:"column:expires_at;not null"`
	ConvertedAt   *time.Time       `gorm:"column:converted_at"`
	OrderID       *uuid.UUID       `gorm:"column:order_id;type:uuid"`
	Items         []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
