package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// DemoLocationID is the single stock location seeded catalogs use.
var DemoLocationID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

type demoVariant struct {
	handle  string
	title   string
	price   int64
	stock   int
	tracked bool
}

var demoCatalog = []demoVariant{
	{"classic-tee-m", "Classic Tee / M", 2500, 40, true},
	{"classic-tee-l", "Classic Tee / L", 2500, 5, true},
	{"canvas-tote", "Canvas Tote", 1800, 12, true},
	{"gift-card-50", "Gift Card 50", 5000, 0, false},
}

// SeedCatalog inserts the demo variants and their stock. Variants whose
// handle already exists are left untouched, so reseeding is safe.
func SeedCatalog(ctx context.Context, client *db.Client, currency enums.Currency) (int, error) {
	if !currency.IsValid() {
		return 0, fmt.Errorf("invalid seed currency %q", currency)
	}
	created := 0
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, demo := range demoCatalog {
			var existing models.ProductVariant
			err := tx.Where("handle = ?", demo.handle).Take(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			variant := models.ProductVariant{
				ProductID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte("storefront:"+demo.handle)),
				Title:          demo.title,
				Handle:         demo.handle,
				PriceMinor:     demo.price,
				Currency:       currency,
				TrackInventory: demo.tracked,
				LocationID:     DemoLocationID,
			}
			if err := tx.Create(&variant).Error; err != nil {
				return fmt.Errorf("seed %s: %w", demo.handle, err)
			}
			if demo.tracked {
				level := models.InventoryLevel{VariantID: variant.ID, LocationID: DemoLocationID, AvailableQty: demo.stock}
				if err := tx.Create(&level).Error; err != nil {
					return fmt.Errorf("seed stock %s: %w", demo.handle, err)
				}
			}
			created++
		}
		return nil
	})
	return created, err
}
