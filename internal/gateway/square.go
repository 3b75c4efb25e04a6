package gateway

import (
	"context"
	"errors"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/square"
)

type squareAPI interface {
	CreateOrder(ctx context.Context, params square.OrderCreateParams) (*sq.Order, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// Square adapts pkg/square to the Gateway contract.
type Square struct {
	api squareAPI
}

var _ Gateway = (*Square)(nil)

func NewSquare(api squareAPI) (*Square, error) {
	if api == nil {
		return nil, errors.New("square client is required")
	}
	return &Square{api: api}, nil
}

func (s *Square) Name() string { return "square" }

func (s *Square) CreateRemoteOrder(ctx context.Context, req RemoteOrderRequest) (*RemoteOrder, error) {
	order, err := s.api.CreateOrder(ctx, square.OrderCreateParams{
		ReferenceID:    req.Receipt,
		AmountMinor:    req.Amount,
		Currency:       req.Currency.String(),
		Metadata:       req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	out := &RemoteOrder{
		ID:       deref(order.GetID()),
		Amount:   req.Amount,
		Currency: req.Currency,
	}
	if total := order.GetTotalMoney(); total != nil {
		if amount, currency, ok := money(total); ok {
			out.Amount = amount
			out.Currency = currency
		}
	}
	return out, nil
}

func (s *Square) FetchPayment(ctx context.Context, gatewayPaymentID string) (*RemotePayment, error) {
	payment, err := s.api.GetPayment(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	return toRemotePayment(payment), nil
}

func toRemotePayment(p *sq.Payment) *RemotePayment {
	raw := deref(p.GetStatus())
	out := &RemotePayment{
		ID:        deref(p.GetID()),
		OrderID:   deref(p.GetOrderID()),
		RawStatus: raw,
		Status:    squareStatus(raw),
		Method:    strings.ToLower(deref(p.GetSourceType())),
		Email:     strings.TrimSpace(deref(p.GetBuyerEmailAddress())),
	}
	if amount, currency, ok := money(p.GetAmountMoney()); ok {
		out.Amount = amount
		out.Currency = currency
	}
	if details := p.GetCardDetails(); details != nil && details.GetCard() != nil {
		card := details.GetCard()
		out.Card = &Card{
			BIN:   deref(card.GetBin()),
			Last4: deref(card.GetLast4()),
		}
		if brand := card.GetCardBrand(); brand != nil {
			out.Card.Brand = string(*brand)
		}
		if addr := card.GetBillingAddress(); addr != nil && addr.GetCountry() != nil {
			out.Card.Country = string(*addr.GetCountry())
		}
	}
	if out.Status == StatusFailed {
		out.FailureReason = "gateway_" + strings.ToLower(raw)
	}
	return out
}

// squareStatus maps Square payment states onto gateway statuses.
func squareStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED":
		return StatusCaptured
	case "APPROVED":
		return StatusAuthorized
	case "FAILED", "CANCELED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func money(m *sq.Money) (int64, enums.Currency, bool) {
	if m == nil || m.GetAmount() == nil {
		return 0, "", false
	}
	var currency enums.Currency
	if c := m.GetCurrency(); c != nil {
		currency = enums.Currency(strings.ToUpper(string(*c)))
	}
	return *m.GetAmount(), currency, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
