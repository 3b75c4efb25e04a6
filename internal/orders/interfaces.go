package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/pricing"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// PricingSnapshot is the immutable tax and shipping table the service prices
// orders with.
type PricingSnapshot = pricing.Snapshot

// Repository captures the persistence contract for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) error
	UpdateItemReserved(ctx context.Context, itemID uuid.UUID, qty int) error
	ListPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FailPendingPayments(ctx context.Context, orderID uuid.UUID, reason string, at time.Time) (int64, error)
}

// Inventory is the stock collaborator used by checkout and fulfillment.
type Inventory interface {
	Available(ctx context.Context, conn *gorm.DB, variantID, locationID uuid.UUID) (int, error)
	Release(ctx context.Context, tx *gorm.DB, requests []inventory.ReleaseRequest) error
	Commit(ctx context.Context, tx *gorm.DB, requests []inventory.ReleaseRequest) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
