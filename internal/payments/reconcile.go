package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/gateway"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	JobPaymentRetry   = "payment-retry"
	JobPaymentSync    = "payment-sync"
	JobPaymentArchive = "payment-archive"
)

type itemResult int

const (
	itemDone itemResult = iota
	itemSkipped
)

// errSkip marks an item another worker already handled.
var errSkip = errors.New("skip")

type batchLimitKey struct{}

// WithBatchLimit caps the batch size of reconcile runs started with ctx.
// Values outside (0, configured batch size] are ignored.
func WithBatchLimit(ctx context.Context, limit int) context.Context {
	return context.WithValue(ctx, batchLimitKey{}, limit)
}

func (s *service) batchSize(ctx context.Context) int {
	if limit, ok := ctx.Value(batchLimitKey{}).(int); ok && limit > 0 && limit < s.cfg.BatchSize {
		return limit
	}
	return s.cfg.BatchSize
}

// RetryFailed opens a new attempt for each payment_failed order whose last
// failure is older than the cooldown, or fails the order once retries run out.
func (s *service) RetryFailed(ctx context.Context) (*RunSummary, error) {
	candidates, err := s.repo.ListRetryCandidates(ctx, s.batchSize(ctx))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list retry candidates")
	}
	summary := &RunSummary{Job: JobPaymentRetry}
	var errs error
	for i := range candidates {
		order := &candidates[i]
		res, err := s.retryOne(ctx, order)
		errs = summary.record(order.OrderNumber, res, err, errs)
	}
	return summary, errs
}

func (s *service) retryOne(ctx context.Context, order *models.Order) (itemResult, error) {
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	latest, err := s.orders.LatestPayment(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return itemSkipped, nil
		}
		return itemDone, err
	}
	if latest.Status != enums.PaymentStatusFailed || latest.FailedAt == nil {
		return itemSkipped, nil
	}
	if s.now().Sub(*latest.FailedAt) < s.cfg.RetryCooldown {
		s.metrics.IncRetry("cooldown")
		return itemSkipped, nil
	}
	if latest.RetryCount >= s.cfg.MaxRetries {
		return s.exhaust(ctx, order, latest)
	}

	next := latest.RetryCount + 1
	key := orders.PaymentIdempotencyKey(order.ID, next)
	remote, err := s.gateway.CreateRemoteOrder(ctx, gateway.RemoteOrderRequest{
		Amount:         order.TotalMinor,
		Currency:       order.Currency,
		Receipt:        order.OrderNumber,
		IdempotencyKey: key,
		Notes: map[string]string{
			"order_id": order.ID.String(),
			"retry":    strconv.Itoa(next),
		},
	})
	if err != nil {
		s.metrics.IncRetry("gateway_error")
		return itemDone, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		now := s.now()

		locked, err := orderRepo.LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.OrderStatusPaymentFailed {
			return errSkip
		}
		gatewayOrderID := remote.ID
		parentID := latest.ID
		payment := &models.Payment{
			OrderID:         order.ID,
			AmountMinor:     order.TotalMinor,
			Currency:        order.Currency,
			Status:          enums.PaymentStatusPending,
			Gateway:         s.gateway.Name(),
			GatewayOrderID:  &gatewayOrderID,
			IdempotencyKey:  key,
			RetryCount:      next,
			ParentPaymentID: &parentID,
		}
		if err := orderRepo.CreatePayment(ctx, payment); err != nil {
			if db.IsUniqueViolation(err, "idempotency_key") {
				return errSkip
			}
			return err
		}
		if err := orders.EnsureOrderTransition(locked.Status, enums.OrderStatusPending); err != nil {
			return err
		}
		if err := orderRepo.UpdateStatus(ctx, order.ID, locked.Status, map[string]any{
			"status":         enums.OrderStatusPending,
			"payment_status": enums.OrderPaymentStatusPending,
			"updated_at":     now,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRetryScheduled,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			OccurredAt:    now,
			Data: payloads.PaymentRetryScheduledEvent{
				OrderID:         order.ID,
				PaymentID:       payment.ID,
				ParentPaymentID: latest.ID,
				RetryCount:      next,
				GatewayOrderID:  remote.ID,
			},
		})
	})
	if errors.Is(err, errSkip) {
		return itemSkipped, nil
	}
	if err != nil {
		return itemDone, err
	}
	s.metrics.IncRetry("scheduled")
	s.logg.Info(s.logg.WithField(ctx, "retry_count", next), "payment retry scheduled")
	return itemDone, nil
}

// exhaust moves an order out of retry once its attempts are used up.
func (s *service) exhaust(ctx context.Context, order *models.Order, latest *models.Payment) (itemResult, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		now := s.now()

		locked, err := orderRepo.LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.OrderStatusPaymentFailed {
			return errSkip
		}
		if err := orders.EnsureOrderTransition(locked.Status, enums.OrderStatusFailed); err != nil {
			return err
		}
		if err := orderRepo.UpdateStatus(ctx, order.ID, locked.Status, map[string]any{
			"status":         enums.OrderStatusFailed,
			"payment_status": enums.OrderPaymentStatusFailed,
			"updated_at":     now,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   latest.ID,
			OccurredAt:    now,
			Data: payloads.PaymentStatusEvent{
				OrderID:       order.ID,
				PaymentID:     latest.ID,
				Status:        latest.Status,
				AmountMinor:   latest.AmountMinor,
				Currency:      latest.Currency,
				FailureReason: reasonRetriesExhausted,
				RetryCount:    latest.RetryCount,
			},
		})
	})
	if errors.Is(err, errSkip) {
		return itemSkipped, nil
	}
	if err != nil {
		return itemDone, err
	}
	s.metrics.IncRetry("exhausted")
	s.logg.Warn(ctx, "payment retries exhausted; order failed")
	return itemDone, nil
}

// SyncPending re-fetches unsettled payments from the gateway and runs them
// through the same transition as a verified callback.
func (s *service) SyncPending(ctx context.Context) (*RunSummary, error) {
	before := s.now().Add(-s.cfg.StaleAfter)
	rows, err := s.repo.ListStalePending(ctx, before, s.batchSize(ctx))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale payments")
	}
	summary := &RunSummary{Job: JobPaymentSync}
	var errs error
	for i := range rows {
		payment := &rows[i]
		res, err := s.syncOne(ctx, payment)
		errs = summary.record(payment.ID.String(), res, err, errs)
	}
	return summary, errs
}

func (s *service) syncOne(ctx context.Context, payment *models.Payment) (itemResult, error) {
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())
	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return itemDone, err
	}
	remote, err := s.gateway.FetchPayment(ctx, deref(payment.GatewayPaymentID))
	if err != nil {
		return itemDone, err
	}
	result, err := s.settle(ctx, order, payment, remote, "")
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeFraudBlocked) {
		return itemDone, err
	}
	if result.Outcome == OutcomePending || result.Outcome == OutcomeAlreadyProcessed {
		return itemSkipped, nil
	}
	return itemDone, nil
}

// ArchiveFailed archives stale failed attempts of orders that were later
// paid or cancelled.
func (s *service) ArchiveFailed(ctx context.Context) (*RunSummary, error) {
	now := s.now()
	n, err := s.repo.ArchiveFailed(ctx, now.Add(-s.cfg.ArchiveAfter), s.batchSize(ctx), now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive failed payments")
	}
	return &RunSummary{Job: JobPaymentArchive, Scanned: int(n), Succeeded: int(n)}, nil
}

func (r *RunSummary) record(item string, res itemResult, err error, errs error) error {
	r.Scanned++
	switch {
	case err != nil:
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", item, err))
		return multierr.Append(errs, fmt.Errorf("%s %s: %w", r.Job, item, err))
	case res == itemSkipped:
		r.Skipped++
	default:
		r.Succeeded++
	}
	return errs
}
