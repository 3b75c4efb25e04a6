package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type orderCreator interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*orders.CreateOrderResult, error)
}

type checkoutCustomer struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"max=32"`
}

type checkoutRequest struct {
	Customer        checkoutCustomer `json:"customer" validate:"required"`
	ShippingAddress types.Address    `json:"shipping_address" validate:"required"`
	BillingAddress  *types.Address   `json:"billing_address" validate:"omitempty"`
	ShippingMethod  string           `json:"shipping_method" validate:"max=64"`
}

type checkoutResponse struct {
	Order   orderResponse   `json:"order"`
	Payment paymentResponse `json:"payment"`
}

// Checkout converts the caller's cart into an order with its first pending
// payment.
func Checkout(svc orderCreator, cookie CartCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		token := cookie.token(r)
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cart token required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), orders.CreateOrderInput{
			CartToken: token,
			Customer: orders.Customer{
				Email: validators.SanitizeString(payload.Customer.Email, 254),
				Name:  validators.SanitizeString(payload.Customer.Name, 200),
				Phone: validators.SanitizeString(payload.Customer.Phone, 32),
			},
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
			ShippingMethod:  validators.SanitizeString(payload.ShippingMethod, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			Order:   newOrderResponse(result.Order),
			Payment: newPaymentResponse(result.Payment),
		})
	}
}
