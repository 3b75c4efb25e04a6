package gateway

import (
	"context"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Status is the normalized payment state reported by a gateway.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusFailed     Status = "failed"
)

// RemoteOrderRequest asks the gateway to open an order for the given amount.
// Receipt is our reference (order number) and is echoed back on payments.
type RemoteOrderRequest struct {
	Amount         int64
	Currency       enums.Currency
	Receipt        string
	Notes          map[string]string
	IdempotencyKey string
}

type RemoteOrder struct {
	ID       string
	Amount   int64
	Currency enums.Currency
}

// Card holds the card attributes the fraud scorer consumes.
type Card struct {
	Brand   string
	Last4   string
	BIN     string
	Country string
}

// RemotePayment is the subset of the gateway payment object the pipeline reads.
type RemotePayment struct {
	ID            string
	OrderID       string
	Status        Status
	RawStatus     string
	Amount        int64
	Currency      enums.Currency
	Method        string
	Email         string
	Card          *Card
	FailureReason string
}

// Gateway is the outbound payment provider contract.
type Gateway interface {
	Name() string
	CreateRemoteOrder(ctx context.Context, req RemoteOrderRequest) (*RemoteOrder, error)
	FetchPayment(ctx context.Context, gatewayPaymentID string) (*RemotePayment, error)
}

// PaymentStatus maps a gateway status onto the stored payment status.
func (s Status) PaymentStatus() enums.PaymentStatus {
	switch s {
	case StatusCaptured:
		return enums.PaymentStatusCaptured
	case StatusAuthorized:
		return enums.PaymentStatusAuthorized
	case StatusFailed:
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

// ParseStatus normalizes loosely formatted status strings.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "captured", "completed", "paid":
		return StatusCaptured
	case "authorized", "approved":
		return StatusAuthorized
	case "failed", "canceled", "cancelled", "declined":
		return StatusFailed
	default:
		return StatusPending
	}
}
