package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type orderReader interface {
	GetOrder(ctx context.Context, orderNumber string) (*orders.OrderDetail, error)
}

type orderTransitioner interface {
	CancelOrder(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
	ShipOrder(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
	DeliverOrder(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
}

type transitionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// OrderDetail looks up an order by its public order number.
func OrderDetail(svc orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		number := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		if number == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number required"))
			return
		}

		detail, err := svc.GetOrder(r.Context(), number)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderDetailResponse(detail))
	}
}

func AdminCancelOrder(svc orderTransitioner, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc, logg, func(ctx context.Context, in orders.TransitionInput) (*models.Order, error) {
		return svc.CancelOrder(ctx, in)
	})
}

func AdminShipOrder(svc orderTransitioner, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc, logg, func(ctx context.Context, in orders.TransitionInput) (*models.Order, error) {
		return svc.ShipOrder(ctx, in)
	})
}

func AdminDeliverOrder(svc orderTransitioner, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc, logg, func(ctx context.Context, in orders.TransitionInput) (*models.Order, error) {
		return svc.DeliverOrder(ctx, in)
	})
}

// transitionHandler accepts an empty body; the reason is optional.
func transitionHandler(svc orderTransitioner, logg *logger.Logger, apply func(context.Context, orders.TransitionInput) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload transitionRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := apply(r.Context(), orders.TransitionInput{
			OrderID:     orderID,
			Reason:      validators.SanitizeString(payload.Reason, 500),
			ActorUserID: middleware.UserIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
