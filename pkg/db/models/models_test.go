package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:models_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(All()...))
	return conn
}

func TestOrderTotalsBalanced(t *testing.T) {
	order := Order{SubtotalMinor: 1000, TaxMinor: 180, ShippingMinor: 4900, DiscountMinor: 100, TotalMinor: 5980}
	assert.True(t, order.TotalsBalanced())

	order.TotalMinor++
	assert.False(t, order.TotalsBalanced())
}

func TestBeforeCreateAssignsIDs(t *testing.T) {
	db := openTestDB(t)

	order := Order{
		OrderNumber:     "ORD-20260101-ABC123",
		CustomerEmail:   "a@example.com",
		CustomerName:    "A",
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.OrderPaymentStatusPending,
		Currency:        enums.CurrencyINR,
		TaxRateBps:      1800,
		ShippingMethod:  "standard",
		ShippingAddress: types.Address{Line1: "1", City: "c", State: "s", PostalCode: "1", Country: "IN"},
	}
	require.NoError(t, db.Create(&order).Error)
	assert.NotEqual(t, uuid.Nil, order.ID)

	payment := Payment{OrderID: order.ID, AmountMinor: 100, Currency: enums.CurrencyINR, Status: enums.PaymentStatusPending, Gateway: "square"}
	require.NoError(t, db.Create(&payment).Error)
	assert.NotEqual(t, uuid.Nil, payment.ID)
	assert.NotEmpty(t, payment.IdempotencyKey)

	var loaded Order
	require.NoError(t, db.First(&loaded, "id = ?", order.ID).Error)
	assert.Equal(t, "IN", loaded.ShippingAddress.Country)
}

func TestPaymentIsSuccessful(t *testing.T) {
	assert.True(t, Payment{Status: enums.PaymentStatusCaptured}.IsSuccessful())
	assert.True(t, Payment{Status: enums.PaymentStatusAuthorized}.IsSuccessful())
	assert.False(t, Payment{Status: enums.PaymentStatusFailed}.IsSuccessful())
}

func TestSingleSuccessfulPaymentPerOrder(t *testing.T) {
	db := openTestDB(t)
	orderID := uuid.New()

	first := Payment{OrderID: orderID, AmountMinor: 100, Currency: enums.CurrencyINR, Status: enums.PaymentStatusCaptured, Gateway: "square"}
	require.NoError(t, db.Create(&first).Error)

	failed := Payment{OrderID: orderID, AmountMinor: 100, Currency: enums.CurrencyINR, Status: enums.PaymentStatusFailed, Gateway: "square"}
	require.NoError(t, db.Create(&failed).Error)

	second := Payment{OrderID: orderID, AmountMinor: 100, Currency: enums.CurrencyINR, Status: enums.PaymentStatusAuthorized, Gateway: "square"}
	require.Error(t, db.Create(&second).Error)
}
