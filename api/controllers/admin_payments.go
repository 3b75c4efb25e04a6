package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type paymentReconciler interface {
	RetryFailed(ctx context.Context) (*payments.RunSummary, error)
	SyncPending(ctx context.Context) (*payments.RunSummary, error)
	ArchiveFailed(ctx context.Context) (*payments.RunSummary, error)
}

type refundRecorder interface {
	RecordRefund(ctx context.Context, input payments.RefundInput) (*models.Payment, error)
}

const maxReconcileLimit = 500

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=500"`
}

// AdminPaymentsRetry runs one retry batch on demand.
func AdminPaymentsRetry(svc paymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return reconcileHandler(svc, logg, func(ctx context.Context) (*payments.RunSummary, error) {
		return svc.RetryFailed(ctx)
	})
}

// AdminPaymentsSync polls the gateway for stale pending payments.
func AdminPaymentsSync(svc paymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return reconcileHandler(svc, logg, func(ctx context.Context) (*payments.RunSummary, error) {
		return svc.SyncPending(ctx)
	})
}

// AdminPaymentsCleanup archives failed attempts of closed orders.
func AdminPaymentsCleanup(svc paymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return reconcileHandler(svc, logg, func(ctx context.Context) (*payments.RunSummary, error) {
		return svc.ArchiveFailed(ctx)
	})
}

func reconcileHandler(svc paymentReconciler, logg *logger.Logger, run func(context.Context) (*payments.RunSummary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, maxReconcileLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := run(payments.WithBatchLimit(r.Context(), limit))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// AdminPaymentRefund records a refund that was issued at the gateway.
func AdminPaymentRefund(svc refundRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.RecordRefund(r.Context(), payments.RefundInput{
			PaymentID:   paymentID,
			AmountMinor: payload.Amount,
			Reason:      validators.SanitizeString(payload.Reason, 500),
			ActorUserID: middleware.UserIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}
