package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type velocityCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	VelocityKey(dimension, value string) string
}

// HistoryProvider builds History from the database and Redis velocity
// counters. Loading history also records the current attempt.
type HistoryProvider struct {
	db       *gorm.DB
	velocity velocityCounter
	window   time.Duration
	logg     *logger.Logger
}

func NewHistoryProvider(db *gorm.DB, velocity velocityCounter, window time.Duration, logg *logger.Logger) *HistoryProvider {
	if window <= 0 {
		window = time.Hour
	}
	return &HistoryProvider{db: db, velocity: velocity, window: window, logg: logg}
}

func (h *HistoryProvider) Load(ctx context.Context, attempt Attempt) (History, error) {
	var hist History

	if err := h.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ?", attempt.OrderID).
		Count(&hist.OrderAttempts).Error; err != nil {
		return hist, fmt.Errorf("count order attempts: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(attempt.Email))
	if email != "" {
		var agg struct {
			Count   int64
			Average float64
		}
		err := h.db.WithContext(ctx).
			Model(&models.Order{}).
			Select("COUNT(*) AS count, COALESCE(AVG(total_minor), 0) AS average").
			Where("LOWER(customer_email) = ? AND payment_status = ? AND id <> ?", email, enums.OrderPaymentStatusPaid, attempt.OrderID).
			Scan(&agg).Error
		if err != nil {
			return hist, fmt.Errorf("load paid history: %w", err)
		}
		hist.PaidOrderCount = agg.Count
		hist.AveragePaidMinor = int64(agg.Average)
		hist.EmailAttempts = h.bump(ctx, "email", email)
	}
	if ip := strings.TrimSpace(attempt.IP); ip != "" {
		hist.IPAttempts = h.bump(ctx, "ip", ip)
	}
	return hist, nil
}

// bump counts the attempt; a Redis outage degrades to zero velocity.
func (h *HistoryProvider) bump(ctx context.Context, dimension, value string) int64 {
	if h.velocity == nil {
		return 0
	}
	count, err := h.velocity.IncrWithTTL(ctx, h.velocity.VelocityKey(dimension, value), h.window)
	if err != nil {
		if h.logg != nil {
			h.logg.Warn(h.logg.WithField(ctx, "dimension", dimension), fmt.Sprintf("velocity counter unavailable: %v", err))
		}
		return 0
	}
	return count
}
