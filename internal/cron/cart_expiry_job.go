package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const cartExpiryBatch = 500

type cartExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int64, error)
}

type CartExpiryJobParams struct {
	Logger *logger.Logger
	Carts  cartExpirer
	Batch  int
}

func NewCartExpiryJob(params CartExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = cartExpiryBatch
	}
	return &cartExpiryJob{logg: params.Logger, carts: params.Carts, batch: batch}, nil
}

type cartExpiryJob struct {
	logg  *logger.Logger
	carts cartExpirer
	batch int
}

func (j *cartExpiryJob) Name() string { return "cart-expiry" }

func (j *cartExpiryJob) Run(ctx context.Context) error {
	expired, err := j.carts.ExpireStale(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("cart expiry: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "carts_abandoned", expired), "expired carts abandoned")
	}
	return nil
}
