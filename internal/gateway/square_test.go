package gateway

import (
	"context"
	"testing"

	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/square"
)

type fakeSquare struct {
	lastParams square.OrderCreateParams
	order      *sq.Order
	payment    *sq.Payment
}

func (f *fakeSquare) CreateOrder(_ context.Context, params square.OrderCreateParams) (*sq.Order, error) {
	f.lastParams = params
	return f.order, nil
}

func (f *fakeSquare) GetPayment(context.Context, string) (*sq.Payment, error) {
	return f.payment, nil
}

func strPtr(s string) *string { return &s }

func TestSquareCreateRemoteOrder(t *testing.T) {
	amount := int64(59000)
	cur := sq.Currency("INR")
	fake := &fakeSquare{order: &sq.Order{
		ID:         strPtr("sq_order_1"),
		TotalMoney: &sq.Money{Amount: &amount, Currency: &cur},
	}}
	gw, err := NewSquare(fake)
	require.NoError(t, err)

	order, err := gw.CreateRemoteOrder(context.Background(), RemoteOrderRequest{
		Amount:   59000,
		Currency: enums.CurrencyINR,
		Receipt:  "ORD-20260101-AAAAAA",
		Notes:    map[string]string{"order_id": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sq_order_1", order.ID)
	assert.Equal(t, int64(59000), order.Amount)
	assert.Equal(t, enums.CurrencyINR, order.Currency)
	assert.Equal(t, "ORD-20260101-AAAAAA", fake.lastParams.ReferenceID)
	assert.Equal(t, "INR", fake.lastParams.Currency)
}

func TestSquareFetchPaymentMapsCard(t *testing.T) {
	amount := int64(1000)
	cur := sq.Currency("INR")
	brand := sq.CardBrand("VISA")
	country := sq.Country("US")
	fake := &fakeSquare{payment: &sq.Payment{
		ID:                strPtr("pay_1"),
		OrderID:           strPtr("sq_order_1"),
		Status:            strPtr("COMPLETED"),
		SourceType:        strPtr("CARD"),
		BuyerEmailAddress: strPtr(" buyer@example.com "),
		AmountMoney:       &sq.Money{Amount: &amount, Currency: &cur},
		CardDetails: &sq.CardPaymentDetails{Card: &sq.Card{
			Bin:            strPtr("411111"),
			Last4:          strPtr("1111"),
			CardBrand:      &brand,
			BillingAddress: &sq.Address{Country: &country},
		}},
	}}
	gw, err := NewSquare(fake)
	require.NoError(t, err)

	p, err := gw.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, p.Status)
	assert.Equal(t, "sq_order_1", p.OrderID)
	assert.Equal(t, int64(1000), p.Amount)
	assert.Equal(t, enums.CurrencyINR, p.Currency)
	assert.Equal(t, "card", p.Method)
	assert.Equal(t, "buyer@example.com", p.Email)
	require.NotNil(t, p.Card)
	assert.Equal(t, "411111", p.Card.BIN)
	assert.Equal(t, "US", p.Card.Country)
	assert.Equal(t, "VISA", p.Card.Brand)
}

func TestSquareStatusMapping(t *testing.T) {
	cases := map[string]Status{
		"COMPLETED": StatusCaptured,
		"APPROVED":  StatusAuthorized,
		"FAILED":    StatusFailed,
		"CANCELED":  StatusFailed,
		"PENDING":   StatusPending,
		"":          StatusPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, squareStatus(raw), raw)
	}

	failed := toRemotePayment(&sq.Payment{ID: strPtr("p"), Status: strPtr("FAILED")})
	assert.Equal(t, "gateway_failed", failed.FailureReason)
	assert.Nil(t, failed.Card)
}
