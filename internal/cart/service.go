package cart

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/pricing"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const tokenBytes = 24

// Service manages anonymous token-addressed carts.
type Service interface {
	AddItem(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error)
	GetCart(ctx context.Context, token string) (*models.Cart, error)
	UpdateItemQuantity(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, token string, variantID uuid.UUID) (*models.Cart, error)
	ExpireStale(ctx context.Context, limit int) (int64, error)
}

type service struct {
	tx       txRunner
	repo     CartRepository
	stock    stockReader
	pricing  pricing.Snapshot
	ttl      time.Duration
	currency enums.Currency
	now      func() time.Time
}

// NewService builds the cart service.
func NewService(tx txRunner, repo CartRepository, stock stockReader, snapshot pricing.Snapshot, cfg config.CartConfig, currency enums.Currency) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &service{
		tx:       tx,
		repo:     repo,
		stock:    stock,
		pricing:  snapshot,
		ttl:      ttl,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) AddItem(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		record, err := s.findOrCreate(ctx, repo, token, now)
		if err != nil {
			return err
		}

		variant, err := repo.FindVariant(ctx, variantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product variant")
		}
		if variant.Currency != record.Currency {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant currency does not match cart")
		}

		desired := quantity
		if existing := findItem(record.Items, variantID); existing != nil {
			desired += existing.Quantity
		}
		if err := s.ensureStock(ctx, tx, variant, desired); err != nil {
			return err
		}

		// a line holds one unit price: re-adding takes the current price for
		// every unit, while UpdateItemQuantity keeps the existing snapshot
		item := snapshotItem(record.ID, variant, desired)
		if err := repo.UpsertItem(ctx, &item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save cart item")
		}

		result, err = s.recompute(ctx, repo, record, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) GetCart(ctx context.Context, token string) (*models.Cart, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	record, err := s.repo.FindActiveByToken(ctx, token, s.now())
	if err != nil {
		return nil, notFoundOr(err, "load cart")
	}
	return record, nil
}

func (s *service) UpdateItemQuantity(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, token, variantID)
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		record, err := repo.FindActiveByToken(ctx, token, now)
		if err != nil {
			return notFoundOr(err, "load cart")
		}
		existing := findItem(record.Items, variantID)
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}

		variant, err := repo.FindVariant(ctx, variantID)
		if err != nil {
			return notFoundOr(err, "load product variant")
		}
		if err := s.ensureStock(ctx, tx, variant, quantity); err != nil {
			return err
		}

		item := *existing
		item.ID = uuid.Nil
		item.Quantity = quantity
		item.SubtotalMinor = item.UnitPriceMinor * int64(quantity)
		item.UpdatedAt = now
		if err := repo.UpsertItem(ctx, &item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save cart item")
		}

		result, err = s.recompute(ctx, repo, record, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RemoveItem(ctx context.Context, token string, variantID uuid.UUID) (*models.Cart, error) {
	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		record, err := repo.FindActiveByToken(ctx, token, now)
		if err != nil {
			return notFoundOr(err, "load cart")
		}
		if findItem(record.Items, variantID) == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		if err := repo.DeleteItem(ctx, record.ID, variantID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete cart item")
		}

		result, err = s.recompute(ctx, repo, record, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExpireStale abandons active carts past their expiry.
func (s *service) ExpireStale(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.AbandonExpired(ctx, s.now(), limit)
}

func (s *service) findOrCreate(ctx context.Context, repo CartRepository, token string, now time.Time) (*models.Cart, error) {
	if token = strings.TrimSpace(token); token != "" {
		record, err := repo.FindActiveByToken(ctx, token, now)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
		}
	}

	fresh, err := newToken()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate cart token")
	}
	record, err := repo.Create(ctx, &models.Cart{
		Token:     fresh,
		Status:    enums.CartStatusActive,
		Currency:  s.currency,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart")
	}
	return record, nil
}

func (s *service) ensureStock(ctx context.Context, tx *gorm.DB, variant *models.ProductVariant, desired int) error {
	if !variant.TrackInventory {
		return nil
	}
	available, err := s.stock.Available(ctx, tx, variant.ID, variant.LocationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
	}
	if desired > available {
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "not enough stock for requested quantity").
			WithDetails(map[string]any{
				"variant_id": variant.ID,
				"requested":  desired,
				"available":  available,
			})
	}
	return nil
}

func (s *service) recompute(ctx context.Context, repo CartRepository, record *models.Cart, now time.Time) (*models.Cart, error) {
	items, err := repo.ListItems(ctx, record.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list cart items")
	}
	var subtotal int64
	for _, item := range items {
		subtotal += item.SubtotalMinor
	}
	record.Items = items
	record.SubtotalMinor = subtotal
	record.TaxMinor = s.pricing.Tax(subtotal)
	record.TotalMinor = subtotal + record.TaxMinor
	record.ExpiresAt = now.Add(s.ttl)
	if err := repo.SaveTotals(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save cart totals")
	}
	return record, nil
}

func snapshotItem(cartID uuid.UUID, variant *models.ProductVariant, quantity int) models.CartItem {
	return models.CartItem{
		CartID:              cartID,
		VariantID:           variant.ID,
		Title:               variant.Title,
		Handle:              variant.Handle,
		ImageURL:            variant.ImageURL,
		SKU:                 variant.SKU,
		Quantity:            quantity,
		UnitPriceMinor:      variant.PriceMinor,
		CompareAtPriceMinor: variant.CompareAtPriceMinor,
		SubtotalMinor:       variant.PriceMinor * int64(quantity),
	}
}

func findItem(items []models.CartItem, variantID uuid.UUID) *models.CartItem {
	for i := range items {
		if items[i].VariantID == variantID {
			return &items[i]
		}
	}
	return nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, strings.TrimPrefix(msg, "load ")+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

// newToken returns an opaque URL-safe cart credential.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
