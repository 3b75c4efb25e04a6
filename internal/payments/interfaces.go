package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/fraud"
	"github.com/angelmondragon/storefront-backend/internal/idempotency"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// Repository is the payment-row persistence contract.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindSuccessful(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	TransitionFrom(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, updates map[string]any) error
	AttachGatewayOrder(ctx context.Context, id uuid.UUID, gatewayOrderID string) (bool, error)
	AttachGatewayPayment(ctx context.Context, id uuid.UUID, gatewayPaymentID string) error
	ListRetryCandidates(ctx context.Context, limit int) ([]models.Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	ArchiveFailed(ctx context.Context, before time.Time, limit int, at time.Time) (int64, error)
}

type historyLoader interface {
	Load(ctx context.Context, attempt fraud.Attempt) (fraud.History, error)
}

type idempotencyStore interface {
	Check(ctx context.Context, key string) (*idempotency.Record, error)
	Save(ctx context.Context, key string, result any, ttl time.Duration) error
}

type signatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) error
}

type reserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) ([]inventory.ReservationResult, error)
	Release(ctx context.Context, tx *gorm.DB, requests []inventory.ReleaseRequest) error
	Commit(ctx context.Context, tx *gorm.DB, requests []inventory.ReleaseRequest) error
	Available(ctx context.Context, conn *gorm.DB, variantID, locationID uuid.UUID) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
