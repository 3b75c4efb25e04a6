package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindActiveByToken(ctx context.Context, token string, now time.Time) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) (*models.Cart, error)
	SaveTotals(ctx context.Context, cart *models.Cart) error
	UpsertItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, cartID, variantID uuid.UUID) error
	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	FindVariant(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error)
	AbandonExpired(ctx context.Context, now time.Time, limit int) (int64, error)
	MarkConverted(ctx context.Context, cartID, orderID uuid.UUID, now time.Time) error
}

type stockReader interface {
	Available(ctx context.Context, conn *gorm.DB, variantID, locationID uuid.UUID) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
