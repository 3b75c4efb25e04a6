package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Event is one security-log entry.
type Event struct {
	Type      enums.SecurityEventType
	Severity  enums.Severity
	OrderID   *uuid.UUID
	PaymentID *uuid.UUID
	Message   string
	Metadata  map[string]any
}

// Emitter is the audit surface the pipeline depends on.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Logger appends security events to the security_events table. Failures are
// logged and never returned to the caller.
type Logger struct {
	db   *gorm.DB
	logg *logger.Logger
}

var _ Emitter = (*Logger)(nil)

func NewLogger(db *gorm.DB, logg *logger.Logger) *Logger {
	return &Logger{db: db, logg: logg}
}

func (l *Logger) Emit(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if err := l.write(ctx, event); err != nil && l.logg != nil {
		fields := map[string]any{
			"security_event": event.Type,
			"severity":       event.Severity,
		}
		l.logg.Error(l.logg.WithFields(ctx, fields), "failed to write security event", err)
	}
}

func (l *Logger) write(ctx context.Context, event Event) error {
	if l.db == nil {
		return fmt.Errorf("audit db not configured")
	}
	if !event.Type.IsValid() {
		return fmt.Errorf("invalid security event type %q", event.Type)
	}
	if !event.Severity.IsValid() {
		event.Severity = enums.SeverityInfo
	}

	var meta json.RawMessage
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = raw
	}

	row := models.SecurityEvent{
		Type:      event.Type,
		Severity:  event.Severity,
		OrderID:   event.OrderID,
		PaymentID: event.PaymentID,
		Message:   event.Message,
		Metadata:  meta,
	}
	return l.db.WithContext(context.WithoutCancel(ctx)).Create(&row).Error
}
