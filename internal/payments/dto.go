package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/fraud"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Outcome names the result of a verify callback.
type Outcome string

const (
	OutcomeCaptured         Outcome = "captured"
	OutcomeAuthorized       Outcome = "authorized"
	OutcomeFailed           Outcome = "failed"
	OutcomePending          Outcome = "pending"
	OutcomeFraudBlocked     Outcome = "fraud_blocked"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// terminal outcomes are cached by the idempotency store.
func (o Outcome) terminal() bool {
	return o != OutcomePending
}

// IntentResult carries the parameters the client needs to open the gateway
// checkout.
type IntentResult struct {
	PaymentID      uuid.UUID      `json:"payment_id"`
	OrderID        uuid.UUID      `json:"order_id"`
	GatewayOrderID string         `json:"gateway_order_id"`
	Gateway        string         `json:"gateway"`
	AmountMinor    int64          `json:"amount"`
	Currency       enums.Currency `json:"currency"`
	KeyID          string         `json:"key_id"`
	Reused         bool           `json:"reused"`
}

// VerifyInput is the client callback after completing payment. Amount and
// status are deliberately absent; both are fetched from the gateway.
type VerifyInput struct {
	PaymentID        uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	ClientIP         string
}

// VerifyResult is the stored and returned response of a verify callback.
// Replayed is never serialized, so a replay encodes byte for byte like the
// first response; the HTTP layer reports it as a header instead.
type VerifyResult struct {
	Outcome        Outcome                  `json:"outcome"`
	Success        bool                     `json:"success"`
	OrderID        uuid.UUID                `json:"order_id"`
	OrderNumber    string                   `json:"order_number"`
	PaymentID      uuid.UUID                `json:"payment_id"`
	PaymentStatus  enums.PaymentStatus      `json:"payment_status"`
	OrderStatus    enums.OrderStatus        `json:"order_status"`
	RiskScore      int                      `json:"risk_score"`
	RiskLevel      enums.RiskLevel          `json:"risk_level,omitempty"`
	Recommendation enums.RiskRecommendation `json:"recommendation,omitempty"`
	Oversold       bool                     `json:"oversold,omitempty"`
	Replayed       bool                     `json:"-"`
}

func (r *VerifyResult) applyAssessment(a *fraud.Assessment) {
	if a == nil {
		return
	}
	r.RiskScore = a.Score
	r.RiskLevel = a.Level
	r.Recommendation = a.Recommendation
}

// RefundInput records a refund already issued at the gateway.
type RefundInput struct {
	PaymentID   uuid.UUID
	AmountMinor int64
	Reason      string
	ActorUserID string
}

// RunSummary reports a reconciliation batch.
type RunSummary struct {
	Job       string   `json:"job"`
	Scanned   int      `json:"scanned"`
	Succeeded int      `json:"succeeded"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
