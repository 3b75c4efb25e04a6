package payments

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/audit"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/fraud"
	"github.com/angelmondragon/storefront-backend/internal/gateway"
	"github.com/angelmondragon/storefront-backend/internal/idempotency"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/pricing"
	"github.com/angelmondragon/storefront-backend/internal/signature"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	testSecret  = "whsec_test"
	buyerEmail  = "buyer@example.com"
	blockedIP   = "203.0.113.9"
	unitPrice   = 500
	shippingFee = 4900
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryKV) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

type countingVelocity struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (v *countingVelocity) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[key]++
	return v.counts[key], nil
}

func (v *countingVelocity) VelocityKey(dimension, value string) string {
	return dimension + ":" + value
}

type fixture struct {
	db       *gorm.DB
	svc      *service
	gw       *gateway.Memory
	signer   *signature.Verifier
	carts    cart.Service
	orders   orders.Service
	variant  models.ProductVariant
	registry *prometheus.Registry
}

type fixtureOption func(*ServiceParams)

func withoutIdempotency() fixtureOption {
	return func(p *ServiceParams) { p.Idempotency = nil }
}

func newFixture(t *testing.T, stock int, opts ...fixtureOption) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:payments_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	variant := models.ProductVariant{
		ProductID:      uuid.New(),
		Title:          "Notebook",
		Handle:         "notebook",
		PriceMinor:     unitPrice,
		Currency:       enums.CurrencyINR,
		TrackInventory: true,
		LocationID:     uuid.New(),
	}
	require.NoError(t, conn.Create(&variant).Error)
	require.NoError(t, conn.Create(&models.InventoryLevel{
		VariantID: variant.ID, LocationID: variant.LocationID, AvailableQty: stock,
	}).Error)

	snap, err := pricing.NewSnapshot(config.PricingConfig{
		TaxRate:               "0.18",
		ShippingRates:         map[string]int64{"standard": shippingFee},
		DefaultShippingMethod: "standard",
	})
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	client := db.Wrap(conn)
	inv := inventory.NewService()
	cartRepo := cart.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), logg)
	gw := gateway.NewMemory()

	carts, err := cart.NewService(client, cartRepo, inv, snap, config.CartConfig{TTL: time.Hour}, enums.CurrencyINR)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(conn), cartRepo, client, events, inv, snap, gw.Name())
	require.NoError(t, err)

	signer, err := signature.NewVerifier(testSecret)
	require.NoError(t, err)
	store, err := idempotency.NewStore(&memoryKV{data: map[string]string{}}, idempotency.ScopePaymentVerify, time.Hour)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	params := ServiceParams{
		Repo:        NewRepository(conn),
		Orders:      orders.NewRepository(conn),
		Tx:          client,
		Gateway:     gw,
		Verifier:    signer,
		Idempotency: store,
		Scorer: fraud.NewHeuristicScorer(fraud.Rules{
			HighAmountMinor:   5_000_000,
			BlockedIPs:        []string{blockedIP},
			DisposableDomains: []string{"mailinator.com"},
		}),
		History:   fraud.NewHistoryProvider(conn, &countingVelocity{counts: map[string]int64{}}, time.Hour, logg),
		Inventory: inv,
		Outbox:    events,
		Audit:     audit.NewLogger(conn, logg),
		Metrics:   metrics.NewPaymentMetrics(registry),
		Logger:    logg,
		Config: config.PaymentsConfig{
			IdempotencyTTL: time.Hour,
			MaxRetries:     3,
			RetryCooldown:  30 * time.Minute,
			StaleAfter:     15 * time.Minute,
			ArchiveAfter:   7 * 24 * time.Hour,
			BatchSize:      10,
		},
		KeyID: "sq0idp-test",
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	return &fixture{
		db:       conn,
		svc:      svc.(*service),
		gw:       gw,
		signer:   signer,
		carts:    carts,
		orders:   orderSvc,
		variant:  variant,
		registry: registry,
	}
}

// placed is an order with an open gateway session.
type placed struct {
	order   *models.Order
	payment *models.Payment
	intent  *IntentResult
}

func (f *fixture) place(t *testing.T, qty int) placed {
	t.Helper()
	p := f.checkout(t, qty)
	intent, err := f.svc.CreateIntent(context.Background(), p.order.ID)
	require.NoError(t, err)
	p.intent = intent
	return p
}

// checkout creates the order without opening a gateway session.
func (f *fixture) checkout(t *testing.T, qty int) placed {
	t.Helper()
	ctx := context.Background()
	c, err := f.carts.AddItem(ctx, "", f.variant.ID, qty)
	require.NoError(t, err)
	res, err := f.orders.CreateOrder(ctx, orders.CreateOrderInput{
		CartToken: c.Token,
		Customer:  orders.Customer{Email: buyerEmail, Name: "Buyer"},
		ShippingAddress: types.Address{
			Line1: "1 Park St", City: "Kolkata", State: "WB", PostalCode: "700016", Country: "IN",
		},
	})
	require.NoError(t, err)
	return placed{order: res.Order, payment: res.Payment}
}

// gatewayPays registers what the gateway reports for gatewayPaymentID.
func (f *fixture) gatewayPays(p placed, gatewayPaymentID string, status gateway.Status) {
	f.gw.PutPayment(gateway.RemotePayment{
		ID:       gatewayPaymentID,
		OrderID:  p.intent.GatewayOrderID,
		Status:   status,
		Amount:   p.order.TotalMinor,
		Currency: p.order.Currency,
		Method:   "card",
		Email:    buyerEmail,
		Card:     &gateway.Card{Brand: "VISA", Last4: "4242", BIN: "424242", Country: "IN"},
	})
}

func (f *fixture) verifyInput(p placed, gatewayPaymentID string) VerifyInput {
	return VerifyInput{
		PaymentID:        p.payment.ID,
		GatewayOrderID:   p.intent.GatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        f.signer.Sign(p.intent.GatewayOrderID, gatewayPaymentID),
		ClientIP:         "198.51.100.7",
	}
}

func (f *fixture) level(t *testing.T) models.InventoryLevel {
	t.Helper()
	var level models.InventoryLevel
	require.NoError(t, f.db.First(&level, "variant_id = ?", f.variant.ID).Error)
	return level
}

func (f *fixture) reload(t *testing.T, p placed) (models.Order, models.Payment) {
	t.Helper()
	var order models.Order
	require.NoError(t, f.db.Preload("Items").First(&order, "id = ?", p.order.ID).Error)
	var payment models.Payment
	require.NoError(t, f.db.First(&payment, "id = ?", p.payment.ID).Error)
	return order, payment
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
