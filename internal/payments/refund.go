package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/audit"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const refundReleaseReason = "refunded"

// RecordRefund books a refund issued at the gateway. A full refund of an
// order that has not shipped also cancels it and returns reserved stock.
func (s *service) RecordRefund(ctx context.Context, input RefundInput) (*models.Payment, error) {
	if input.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	ctx = s.logg.WithPaymentID(ctx, input.PaymentID.String())

	var (
		updated   *models.Payment
		orderID   uuid.UUID
		full      bool
		released  int
		cancelled bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orderRepo := s.orders.WithTx(tx)
		now := s.now()

		order, payment, err := lockOrderThenPayment(ctx, repo, orderRepo, input.PaymentID)
		if err != nil {
			return err
		}
		orderID = order.ID
		if payment.Status != enums.PaymentStatusCaptured {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only captured payments can be refunded").
				WithDetails(map[string]any{"status": payment.Status})
		}
		remaining := payment.AmountMinor - payment.RefundedMinor
		if input.AmountMinor > remaining {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds captured amount").
				WithDetails(map[string]any{"refundable": remaining})
		}

		refunded := payment.RefundedMinor + input.AmountMinor
		full = refunded == payment.AmountMinor
		updates := map[string]any{"refunded_minor": refunded, "refunded_at": now}
		orderUpdates := map[string]any{"payment_status": enums.OrderPaymentStatusPartiallyRefunded}
		if full {
			if err := orders.EnsurePaymentTransition(payment.Status, enums.PaymentStatusRefunded); err != nil {
				return err
			}
			updates["status"] = enums.PaymentStatusRefunded
			orderUpdates["payment_status"] = enums.OrderPaymentStatusRefunded
			if orders.CanTransitionOrder(order.Status, enums.OrderStatusCancelled) {
				released, err = orders.ReleaseReservations(ctx, tx, orderRepo, s.inventory, order)
				if err != nil {
					return err
				}
				orderUpdates["status"] = enums.OrderStatusCancelled
				orderUpdates["cancelled_at"] = now
				cancelled = true
			}
		}
		if err := repo.TransitionFrom(ctx, payment.ID, payment.Status, updates); err != nil {
			return err
		}
		if err := orderRepo.UpdateStatus(ctx, order.ID, order.Status, orderUpdates); err != nil {
			return err
		}

		status := payment.Status
		if full {
			status = enums.PaymentStatusRefunded
		}
		actor := &outbox.ActorRef{UserID: input.ActorUserID, Role: "admin"}
		events := []outbox.DomainEvent{{
			EventType:     enums.EventPaymentRefunded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.PaymentStatusEvent{
				OrderID:          order.ID,
				PaymentID:        payment.ID,
				Status:           status,
				AmountMinor:      input.AmountMinor,
				Currency:         payment.Currency,
				GatewayPaymentID: deref(payment.GatewayPaymentID),
				RetryCount:       payment.RetryCount,
			},
		}}
		if cancelled {
			events = append(events, outbox.DomainEvent{
				EventType:     enums.EventOrderCancelled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actor,
				OccurredAt:    now,
				Data: payloads.OrderStatusEvent{
					OrderID:    order.ID,
					From:       order.Status,
					To:         enums.OrderStatusCancelled,
					OccurredAt: now,
					Reason:     refundReleaseReason,
				},
			})
		}
		if released > 0 {
			events = append(events, outbox.DomainEvent{
				EventType:     enums.EventReservationReleased,
				AggregateType: enums.AggregateInventory,
				AggregateID:   order.ID,
				OccurredAt:    now,
				Data: payloads.ReservationReleasedEvent{
					OrderID:  order.ID,
					Reason:   refundReleaseReason,
					Released: released,
				},
			})
		}
		for _, event := range events {
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit refund event")
			}
		}

		updated, err = repo.FindByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	paymentID := updated.ID
	s.emitAudit(ctx, audit.Event{
		Type:      enums.SecurityEventAdminAction,
		Severity:  enums.SeverityInfo,
		OrderID:   &orderID,
		PaymentID: &paymentID,
		Message:   fmt.Sprintf("refund of %d recorded", input.AmountMinor),
		Metadata: map[string]any{
			"actor":           input.ActorUserID,
			"reason":          strings.TrimSpace(input.Reason),
			"full":            full,
			"released_units":  released,
			"order_cancelled": cancelled,
		},
	})
	return updated, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
