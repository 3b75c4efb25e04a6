package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Customer identifies the buyer of a guest checkout.
type Customer struct {
	Email string
	Name  string
	Phone string
}

// CreateOrderInput carries everything checkout needs besides the cart itself.
type CreateOrderInput struct {
	CartToken       string
	Customer        Customer
	ShippingAddress types.Address
	BillingAddress  *types.Address
	ShippingMethod  string
}

// CreateOrderResult returns the persisted order and its first payment attempt.
type CreateOrderResult struct {
	Order   *models.Order
	Payment *models.Payment
}

// OrderDetail is an order with every payment attempt made against it.
type OrderDetail struct {
	Order    *models.Order
	Payments []models.Payment
}

// TransitionInput drives the admin cancel/ship/deliver operations.
type TransitionInput struct {
	OrderID     uuid.UUID
	Reason      string
	ActorUserID string
}
