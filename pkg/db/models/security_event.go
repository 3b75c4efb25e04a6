package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// SecurityEvent is an append-only audit row.
type SecurityEvent struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Type      enums.SecurityEventType `gorm:"column:type;type:text;not null"`
	Severity  enums.Severity          `gorm:"column:severity;type:text;not null"`
	OrderID   *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	PaymentID *uuid.UUID              `gorm:"column:payment_id;type:uuid"`
	Message   string                  `gorm:"column:message;not null"`
	Metadata  json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (e *SecurityEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
