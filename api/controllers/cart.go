package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type cartService interface {
	AddItem(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error)
	GetCart(ctx context.Context, token string) (*models.Cart, error)
	UpdateItemQuantity(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, token string, variantID uuid.UUID) (*models.Cart, error)
}

// CartCookie describes the cookie that carries the anonymous cart token.
type CartCookie struct {
	Name   string
	Secure bool
}

func (c CartCookie) name() string {
	if strings.TrimSpace(c.Name) == "" {
		return middleware.CartCookieName
	}
	return c.Name
}

// token prefers the explicit header over the cookie.
func (c CartCookie) token(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(middleware.CartTokenHeader)); token != "" {
		return token
	}
	if cookie, err := r.Cookie(c.name()); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func (c CartCookie) set(w http.ResponseWriter, cart *models.Cart) {
	maxAge := int(time.Until(cart.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    cart.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(middleware.CartTokenHeader, cart.Token)
}

type addCartItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

type updateCartItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Quantity  *int   `json:"quantity" validate:"required,min=0,max=100"`
}

type removeCartItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
}

// CartFetch returns the active cart for the caller's token.
func CartFetch(svc cartService, cookie CartCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		cart, err := svc.GetCart(r.Context(), cookie.token(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CartAddItem adds a variant to the cart, opening a new cart when the caller
// has none.
func CartAddItem(svc cartService, cookie CartCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		token := cookie.token(r)
		cart, err := svc.AddItem(r.Context(), token, uuid.MustParse(payload.VariantID), payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if token != cart.Token {
			cookie.set(w, cart)
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, newCartResponse(cart))
	}
}

// CartUpdateItem sets an item's quantity; zero removes the line.
func CartUpdateItem(svc cartService, cookie CartCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var payload updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.UpdateItemQuantity(r.Context(), cookie.token(r), uuid.MustParse(payload.VariantID), *payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

func CartRemoveItem(svc cartService, cookie CartCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var payload removeCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.RemoveItem(r.Context(), cookie.token(r), uuid.MustParse(payload.VariantID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}
