package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type cartItemResponse struct {
	VariantID      uuid.UUID `json:"variant_id"`
	Title          string    `json:"title"`
	SKU            *string   `json:"sku,omitempty"`
	ImageURL       *string   `json:"image_url,omitempty"`
	Quantity       int       `json:"quantity"`
	UnitPrice      int64     `json:"unit_price"`
	CompareAtPrice *int64    `json:"compare_at_price,omitempty"`
	Subtotal       int64     `json:"subtotal"`
}

type cartResponse struct {
	ID        uuid.UUID          `json:"id"`
	Token     string             `json:"token"`
	Status    enums.CartStatus   `json:"status"`
	Currency  enums.Currency     `json:"currency"`
	Subtotal  int64              `json:"subtotal"`
	Tax       int64              `json:"tax"`
	Total     int64              `json:"total"`
	ExpiresAt time.Time          `json:"expires_at"`
	Items     []cartItemResponse `json:"items"`
}

func newCartResponse(cart *models.Cart) cartResponse {
	resp := cartResponse{
		ID:        cart.ID,
		Token:     cart.Token,
		Status:    cart.Status,
		Currency:  cart.Currency,
		Subtotal:  cart.SubtotalMinor,
		Tax:       cart.TaxMinor,
		Total:     cart.TotalMinor,
		ExpiresAt: cart.ExpiresAt,
		Items:     make([]cartItemResponse, 0, len(cart.Items)),
	}
	for _, item := range cart.Items {
		resp.Items = append(resp.Items, cartItemResponse{
			VariantID:      item.VariantID,
			Title:          item.Title,
			SKU:            item.SKU,
			ImageURL:       item.ImageURL,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPriceMinor,
			CompareAtPrice: item.CompareAtPriceMinor,
			Subtotal:       item.SubtotalMinor,
		})
	}
	return resp
}

type orderItemResponse struct {
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Title     string     `json:"title"`
	SKU       *string    `json:"sku,omitempty"`
	Quantity  int        `json:"quantity"`
	Reserved  int        `json:"reserved"`
	UnitPrice int64      `json:"unit_price"`
	Subtotal  int64      `json:"subtotal"`
}

type orderResponse struct {
	ID                uuid.UUID                `json:"id"`
	OrderNumber       string                   `json:"order_number"`
	Status            enums.OrderStatus        `json:"status"`
	PaymentStatus     enums.OrderPaymentStatus `json:"payment_status"`
	FulfillmentStatus enums.FulfillmentStatus  `json:"fulfillment_status"`
	Currency          enums.Currency           `json:"currency"`
	Subtotal          int64                    `json:"subtotal"`
	Tax               int64                    `json:"tax"`
	Shipping          int64                    `json:"shipping"`
	Discount          int64                    `json:"discount"`
	Total             int64                    `json:"total"`
	ShippingMethod    string                   `json:"shipping_method"`
	ShippingAddress   types.Address            `json:"shipping_address"`
	Items             []orderItemResponse      `json:"items,omitempty"`
	Payments          []paymentResponse        `json:"payments,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	CancelledAt       *time.Time               `json:"cancelled_at,omitempty"`
	ShippedAt         *time.Time               `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time               `json:"delivered_at,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		Status:            order.Status,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		Currency:          order.Currency,
		Subtotal:          order.SubtotalMinor,
		Tax:               order.TaxMinor,
		Shipping:          order.ShippingMinor,
		Discount:          order.DiscountMinor,
		Total:             order.TotalMinor,
		ShippingMethod:    order.ShippingMethod,
		ShippingAddress:   order.ShippingAddress,
		CreatedAt:         order.CreatedAt,
		CancelledAt:       order.CancelledAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			VariantID: item.VariantID,
			Title:     item.Title,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			Reserved:  item.ReservedQty,
			UnitPrice: item.UnitPriceMinor,
			Subtotal:  item.SubtotalMinor,
		})
	}
	return resp
}

func newOrderDetailResponse(detail *orders.OrderDetail) orderResponse {
	resp := newOrderResponse(detail.Order)
	for i := range detail.Payments {
		resp.Payments = append(resp.Payments, newPaymentResponse(&detail.Payments[i]))
	}
	return resp
}

type paymentResponse struct {
	ID               uuid.UUID           `json:"id"`
	OrderID          uuid.UUID           `json:"order_id"`
	Status           enums.PaymentStatus `json:"status"`
	Amount           int64               `json:"amount"`
	Refunded         int64               `json:"refunded"`
	Currency         enums.Currency      `json:"currency"`
	Gateway          string              `json:"gateway"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty"`
	RetryCount       int                 `json:"retry_count"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

func newPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Status:           p.Status,
		Amount:           p.AmountMinor,
		Refunded:         p.RefundedMinor,
		Currency:         p.Currency,
		Gateway:          p.Gateway,
		GatewayPaymentID: p.GatewayPaymentID,
		RetryCount:       p.RetryCount,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt,
	}
}
