package orders

import (
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusCancelled,
		enums.OrderStatusFailed, enums.OrderStatusPaymentFailed,
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusProcessing, enums.OrderStatusCancelled,
		enums.OrderStatusFailed, enums.OrderStatusPaymentFailed,
	},
	enums.OrderStatusProcessing: {
		enums.OrderStatusShipped, enums.OrderStatusCancelled,
		enums.OrderStatusFailed, enums.OrderStatusPaymentFailed,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered, enums.OrderStatusFailed,
	},
	enums.OrderStatusPaymentFailed: {
		enums.OrderStatusPending, enums.OrderStatusCancelled, enums.OrderStatusFailed,
	},
}

var paymentTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {
		enums.PaymentStatusAuthorized, enums.PaymentStatusCaptured, enums.PaymentStatusFailed,
	},
	enums.PaymentStatusAuthorized: {
		enums.PaymentStatusCaptured, enums.PaymentStatusFailed,
	},
	enums.PaymentStatusCaptured: {
		enums.PaymentStatusRefunded,
	},
	enums.PaymentStatusFailed: {
		enums.PaymentStatusArchived,
	},
}

// CanTransitionOrder reports whether an order may move from one status to another.
func CanTransitionOrder(from, to enums.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether a payment may move between statuses.
func CanTransitionPayment(from, to enums.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave status.
func IsTerminal(status enums.OrderStatus) bool {
	return len(orderTransitions[status]) == 0
}

// EnsureOrderTransition returns a StateConflict error for illegal moves.
func EnsureOrderTransition(from, to enums.OrderStatus) error {
	if CanTransitionOrder(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", from, to))
}

// EnsurePaymentTransition returns a StateConflict error for illegal moves.
func EnsurePaymentTransition(from, to enums.PaymentStatus) error {
	if CanTransitionPayment(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment cannot move from %s to %s", from, to))
}

// Outcome is the pair of order fields a verified gateway status produces.
type Outcome struct {
	PaymentStatus      enums.PaymentStatus
	OrderStatus        enums.OrderStatus
	OrderPaymentStatus enums.OrderPaymentStatus
	ReservesInventory  bool
}

// OutcomeFor maps a payment result onto order state. ok is false for
// statuses that do not move the order (pending). A failed payment parks the
// order in payment_failed, not failed: the retry job only picks up
// payment_failed orders and moves them to failed once retries run out.
func OutcomeFor(status enums.PaymentStatus) (Outcome, bool) {
	switch status {
	case enums.PaymentStatusCaptured:
		return Outcome{status, enums.OrderStatusProcessing, enums.OrderPaymentStatusPaid, true}, true
	case enums.PaymentStatusAuthorized:
		return Outcome{status, enums.OrderStatusPending, enums.OrderPaymentStatusAuthorized, true}, true
	case enums.PaymentStatusFailed:
		return Outcome{status, enums.OrderStatusPaymentFailed, enums.OrderPaymentStatusFailed, false}, true
	default:
		return Outcome{}, false
	}
}
