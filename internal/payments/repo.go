package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindSuccessful returns the captured or authorized payment of an order, or
// gorm.ErrRecordNotFound.
func (r *repository) FindSuccessful(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []enums.PaymentStatus{enums.PaymentStatusCaptured, enums.PaymentStatusAuthorized}).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// TransitionFrom is the compare-and-swap on payment status. Losing the race
// yields a StateConflict.
func (r *repository) TransitionFrom(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, updates map[string]any) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status changed concurrently")
	}
	return nil
}

// AttachGatewayOrder sets the gateway order id once. It reports false when
// another request attached one first.
func (r *repository) AttachGatewayOrder(ctx context.Context, id uuid.UUID, gatewayOrderID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND gateway_order_id IS NULL", id).
		Updates(map[string]any{"gateway_order_id": gatewayOrderID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AttachGatewayPayment(ctx context.Context, id uuid.UUID, gatewayPaymentID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND gateway_payment_id IS NULL", id).
		Updates(map[string]any{"gateway_payment_id": gatewayPaymentID, "updated_at": time.Now().UTC()}).Error
}

// ListRetryCandidates returns orders waiting on a new payment attempt.
func (r *repository) ListRetryCandidates(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusPaymentFailed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStalePending returns pending or authorized payments the gateway already
// knows about that have not moved since before.
func (r *repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND gateway_payment_id IS NOT NULL AND updated_at < ?",
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusAuthorized}, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ArchiveFailed archives failed attempts older than before whose order was
// cancelled or later paid by an attempt with a higher retry count.
func (r *repository) ArchiveFailed(ctx context.Context, before time.Time, limit int, at time.Time) (int64, error) {
	supersededBy := r.db.
		Table("payments AS later").
		Select("1").
		Where("later.order_id = payments.order_id AND later.retry_count > payments.retry_count").
		Where("later.status IN ?", []enums.PaymentStatus{enums.PaymentStatusCaptured, enums.PaymentStatusAuthorized, enums.PaymentStatusRefunded})
	closed := r.db.
		Model(&models.Order{}).
		Select("id").
		Where("status = ?", enums.OrderStatusCancelled)

	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status = ? AND failed_at < ?", enums.PaymentStatusFailed, before).
		Where(r.db.Where("EXISTS (?)", supersededBy).Or("order_id IN (?)", closed)).
		Order("failed_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id IN ? AND status = ?", ids, enums.PaymentStatusFailed).
		Updates(map[string]any{
			"status":      enums.PaymentStatusArchived,
			"archived_at": at,
			"updated_at":  at,
		})
	return res.RowsAffected, res.Error
}
