package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const maxCASAttempts = 3

// ReservationRequest asks for Qty units of a variant at a location.
type ReservationRequest struct {
	LineID     uuid.UUID
	VariantID  uuid.UUID
	LocationID uuid.UUID
	Qty        int
}

// ReservationResult reports how much of a request was granted. Reserved is
// never more than what was available, so Shortfall > 0 means oversold.
type ReservationResult struct {
	LineID    uuid.UUID
	VariantID uuid.UUID
	Requested int
	Reserved  int
	Shortfall int
}

type ReleaseRequest struct {
	VariantID  uuid.UUID
	LocationID uuid.UUID
	Qty        int
}

// Service mutates inventory levels inside the caller's transaction.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Reserve moves stock from available to reserved for each request. Short
// stock reserves what is left instead of failing.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	results := make([]ReservationResult, 0, len(requests))
	for _, req := range requests {
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive")
		}
		reserved, err := s.reserveOne(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		results = append(results, ReservationResult{
			LineID:    req.LineID,
			VariantID: req.VariantID,
			Requested: req.Qty,
			Reserved:  reserved,
			Shortfall: req.Qty - reserved,
		})
	}
	return results, nil
}

func (s *Service) reserveOne(ctx context.Context, tx *gorm.DB, req ReservationRequest) (int, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		level, err := lockLevel(ctx, tx, req.VariantID, req.LocationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, nil
			}
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory level")
		}

		grant := min(level.AvailableQty, req.Qty)
		if grant <= 0 {
			return 0, nil
		}

		res := tx.WithContext(ctx).
			Model(&models.InventoryLevel{}).
			Where("variant_id = ? AND location_id = ? AND available_qty >= ?", req.VariantID, req.LocationID, grant).
			Updates(map[string]any{
				"available_qty": gorm.Expr("available_qty - ?", grant),
				"reserved_qty":  gorm.Expr("reserved_qty + ?", grant),
			})
		if res.Error != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "reserve inventory")
		}
		if res.RowsAffected == 1 {
			return grant, nil
		}
	}
	return 0, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("inventory for variant %s kept changing", req.VariantID))
}

// Release returns reserved units to available. Releasing more than is
// reserved only releases what is there.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, requests []ReleaseRequest) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, req := range requests {
		if req.Qty <= 0 {
			continue
		}
		level, err := lockLevel(ctx, tx, req.VariantID, req.LocationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory level")
		}
		qty := min(level.ReservedQty, req.Qty)
		if qty <= 0 {
			continue
		}
		err = tx.WithContext(ctx).
			Model(&models.InventoryLevel{}).
			Where("variant_id = ? AND location_id = ? AND reserved_qty >= ?", req.VariantID, req.LocationID, qty).
			Updates(map[string]any{
				"available_qty": gorm.Expr("available_qty + ?", qty),
				"reserved_qty":  gorm.Expr("reserved_qty - ?", qty),
			}).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release inventory")
		}
	}
	return nil
}

// Commit drops shipped units from reserved without returning them to
// available.
func (s *Service) Commit(ctx context.Context, tx *gorm.DB, requests []ReleaseRequest) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, req := range requests {
		if req.Qty <= 0 {
			continue
		}
		level, err := lockLevel(ctx, tx, req.VariantID, req.LocationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory level")
		}
		qty := min(level.ReservedQty, req.Qty)
		if qty <= 0 {
			continue
		}
		err = tx.WithContext(ctx).
			Model(&models.InventoryLevel{}).
			Where("variant_id = ? AND location_id = ? AND reserved_qty >= ?", req.VariantID, req.LocationID, qty).
			Update("reserved_qty", gorm.Expr("reserved_qty - ?", qty)).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit inventory")
		}
	}
	return nil
}

// Available returns the sellable quantity for a variant at a location, zero
// when no level row exists.
func (s *Service) Available(ctx context.Context, conn *gorm.DB, variantID, locationID uuid.UUID) (int, error) {
	var level models.InventoryLevel
	err := conn.WithContext(ctx).
		Where("variant_id = ? AND location_id = ?", variantID, locationID).
		First(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return level.AvailableQty, nil
}

func lockLevel(ctx context.Context, tx *gorm.DB, variantID, locationID uuid.UUID) (*models.InventoryLevel, error) {
	var level models.InventoryLevel
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("variant_id = ? AND location_id = ?", variantID, locationID).
		First(&level).Error
	if err != nil {
		return nil, err
	}
	return &level, nil
}
