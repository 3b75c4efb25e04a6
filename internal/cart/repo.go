package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Repository exposes persistence operations for carts.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// DB returns the bound connection.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// FindActiveByToken loads an unexpired active cart and its items.
func (r *Repository) FindActiveByToken(ctx context.Context, token string, now time.Time) (*models.Cart, error) {
	var record models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("token = ? AND status = ? AND expires_at > ?", token, enums.CartStatusActive, now).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Create inserts a new cart.
func (r *Repository) Create(ctx context.Context, record *models.Cart) (*models.Cart, error) {
	if record.Status == "" {
		record.Status = enums.CartStatusActive
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// SaveTotals persists the cart money columns and expiry.
func (r *Repository) SaveTotals(ctx context.Context, record *models.Cart) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"subtotal_minor": record.SubtotalMinor,
			"tax_minor":      record.TaxMinor,
			"total_minor":    record.TotalMinor,
			"expires_at":     record.ExpiresAt,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// UpsertItem inserts the line or overwrites quantity and prices when the
// variant is already in the cart.
func (r *Repository) UpsertItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cart_id"}, {Name: "variant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"quantity", "unit_price_minor", "compare_at_price_minor", "subtotal_minor", "updated_at",
			}),
		}).
		Create(item).Error
}

// DeleteItem removes the variant line from the cart.
func (r *Repository) DeleteItem(ctx context.Context, cartID, variantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ? AND variant_id = ?", cartID, variantID).
		Delete(&models.CartItem{}).Error
}

// ListItems returns items belonging to a cart.
func (r *Repository) ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) FindVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	if err := r.db.WithContext(ctx).First(&variant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

// AbandonExpired marks up to limit expired active carts as abandoned.
func (r *Repository) AbandonExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("status = ? AND expires_at <= ?", enums.CartStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id IN ? AND status = ?", ids, enums.CartStatusActive).
		Updates(map[string]any{"status": enums.CartStatusAbandoned, "updated_at": now})
	return res.RowsAffected, res.Error
}

// MarkConverted closes an active cart after checkout. It fails when the cart
// was converted or abandoned concurrently.
func (r *Repository) MarkConverted(ctx context.Context, cartID, orderID uuid.UUID, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", cartID, enums.CartStatusActive).
		Updates(map[string]any{
			"status":       enums.CartStatusConverted,
			"order_id":     orderID,
			"converted_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
