package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/pricing"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type fixture struct {
	db      *gorm.DB
	svc     *service
	variant models.ProductVariant
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:cart_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	variant := models.ProductVariant{
		ProductID:      uuid.New(),
		Title:          "Tee / M",
		Handle:         "tee",
		PriceMinor:     500,
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
		ShippingRates:         map[string]int64{"standard": 4900},
		DefaultShippingMethod: "standard",
	})
	require.NoError(t, err)

	svc, err := NewService(db.Wrap(conn), NewRepository(conn), inventory.NewService(), snap, config.CartConfig{TTL: time.Hour}, enums.CurrencyINR)
	require.NoError(t, err)
	return &fixture{db: conn, svc: svc.(*service), variant: variant}
}

func TestAddItemCreatesCartAndSnapshots(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)

	cart, err := f.svc.AddItem(context.Background(), "", f.variant.ID, 2)
	require.NoError(t, err)
	require.NotEmpty(t, cart.Token)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "Tee / M", cart.Items[0].Title)
	assert.Equal(t, int64(1000), cart.SubtotalMinor)
	assert.Equal(t, int64(180), cart.TaxMinor)
	assert.Equal(t, int64(1180), cart.TotalMinor)

	// price changes after add do not touch the snapshot
	require.NoError(t, f.db.Model(&models.ProductVariant{}).Where("id = ?", f.variant.ID).Update("price_minor", 900).Error)
	got, err := f.svc.GetCart(context.Background(), cart.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Items[0].UnitPriceMinor)
}

func TestAddItemMergesQuantityAndChecksStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()

	cart, err := f.svc.AddItem(ctx, "", f.variant.ID, 3)
	require.NoError(t, err)

	cart, err = f.svc.AddItem(ctx, cart.Token, f.variant.ID, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)

	_, err = f.svc.AddItem(ctx, cart.Token, f.variant.ID, 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientInventory))

	var level models.InventoryLevel
	require.NoError(t, f.db.First(&level, "variant_id = ?", f.variant.ID).Error)
	assert.Equal(t, 5, level.AvailableQty, "carts never reserve stock")
}

func TestReAddTakesCurrentPriceButUpdateKeepsSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	ctx := context.Background()

	cart, err := f.svc.AddItem(ctx, "", f.variant.ID, 1)
	require.NoError(t, err)
	oldPrice := cart.Items[0].UnitPriceMinor
	newPrice := oldPrice + 500
	require.NoError(t, f.db.Model(&models.ProductVariant{}).Where("id = ?", f.variant.ID).Update("price_minor", newPrice).Error)

	cart, err = f.svc.UpdateItemQuantity(ctx, cart.Token, f.variant.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, oldPrice, cart.Items[0].UnitPriceMinor)
	assert.Equal(t, oldPrice*2, cart.Items[0].SubtotalMinor)

	cart, err = f.svc.AddItem(ctx, cart.Token, f.variant.ID, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, newPrice, cart.Items[0].UnitPriceMinor)
	assert.Equal(t, newPrice*3, cart.Items[0].SubtotalMinor)
}

func TestAddItemValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, "", f.variant.ID, 0)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.AddItem(ctx, "", uuid.New(), 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUnknownOrExpiredTokenStartsNewCart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.svc.AddItem(ctx, "", f.variant.ID, 1)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	second, err := f.svc.AddItem(ctx, first.Token, f.variant.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	third, err := f.svc.AddItem(ctx, "not-a-real-token", f.variant.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-real-token", third.Token)
}

func TestUpdateAndRemoveItem(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()

	cart, err := f.svc.AddItem(ctx, "", f.variant.ID, 1)
	require.NoError(t, err)

	cart, err = f.svc.UpdateItemQuantity(ctx, cart.Token, f.variant.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.Equal(t, int64(2000), cart.SubtotalMinor)

	_, err = f.svc.UpdateItemQuantity(ctx, cart.Token, f.variant.ID, 6)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientInventory))

	_, err = f.svc.UpdateItemQuantity(ctx, cart.Token, uuid.New(), 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	cart, err = f.svc.UpdateItemQuantity(ctx, cart.Token, f.variant.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.TotalMinor)

	_, err = f.svc.RemoveItem(ctx, cart.Token, f.variant.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestGetCartNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)

	_, err := f.svc.GetCart(context.Background(), "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = f.svc.GetCart(context.Background(), "missing")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestExpireStaleAbandonsOldCarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()

	cart, err := f.svc.AddItem(ctx, "", f.variant.ID, 1)
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(3 * time.Hour) }
	n, err = f.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var stored models.Cart
	require.NoError(t, f.db.First(&stored, "id = ?", cart.ID).Error)
	assert.Equal(t, enums.CartStatusAbandoned, stored.Status)
}
