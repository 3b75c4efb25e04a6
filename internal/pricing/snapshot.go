package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Snapshot is the immutable pricing table handed to the cart and order
// services at wiring time.
type Snapshot struct {
	taxRate       decimal.Decimal
	shipping      map[string]int64
	defaultMethod string
}

func NewSnapshot(cfg config.PricingConfig) (Snapshot, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.TaxRate))
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse tax rate %q: %w", cfg.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Snapshot{}, fmt.Errorf("tax rate %s must be between 0 and 1", rate)
	}
	shipping := make(map[string]int64, len(cfg.ShippingRates))
	for method, amount := range cfg.ShippingRates {
		shipping[strings.ToLower(strings.TrimSpace(method))] = amount
	}
	def := strings.ToLower(strings.TrimSpace(cfg.DefaultShippingMethod))
	if _, ok := shipping[def]; !ok {
		return Snapshot{}, fmt.Errorf("default shipping method %q not in rate table", cfg.DefaultShippingMethod)
	}
	return Snapshot{taxRate: rate, shipping: shipping, defaultMethod: def}, nil
}

// Tax applies the flat rate to subtotalMinor, rounding half away from zero.
func (s Snapshot) Tax(subtotalMinor int64) int64 {
	return decimal.NewFromInt(subtotalMinor).Mul(s.taxRate).Round(0).IntPart()
}

// TaxRateBps is the rate in basis points, recorded on each order.
func (s Snapshot) TaxRateBps() int {
	return int(s.taxRate.Mul(decimal.NewFromInt(10000)).Round(0).IntPart())
}

// Shipping resolves a method id to its flat charge. An empty method uses the
// default.
func (s Snapshot) Shipping(method string) (string, int64, error) {
	key := strings.ToLower(strings.TrimSpace(method))
	if key == "" {
		key = s.defaultMethod
	}
	amount, ok := s.shipping[key]
	if !ok {
		return "", 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown shipping method %q", method))
	}
	return key, amount, nil
}

func (s Snapshot) DefaultMethod() string {
	return s.defaultMethod
}
