package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type paymentRunner interface {
	RetryFailed(ctx context.Context) (*payments.RunSummary, error)
	SyncPending(ctx context.Context) (*payments.RunSummary, error)
	ArchiveFailed(ctx context.Context) (*payments.RunSummary, error)
}

// summaryJob adapts one payments batch operation to a Job.
type summaryJob struct {
	name  string
	every time.Duration
	logg  *logger.Logger
	run   func(ctx context.Context) (*payments.RunSummary, error)
}

func (j *summaryJob) Name() string         { return j.name }
func (j *summaryJob) Every() time.Duration { return j.every }

func (j *summaryJob) Run(ctx context.Context) error {
	summary, err := j.run(ctx)
	if summary != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"scanned":   summary.Scanned,
			"succeeded": summary.Succeeded,
			"skipped":   summary.Skipped,
			"failed":    summary.Failed,
		})
		j.logg.Info(logCtx, "batch finished")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}

// PaymentJobParams configure the payment reconciliation jobs.
type PaymentJobParams struct {
	Logger   *logger.Logger
	Payments paymentRunner
	// ArchiveEvery throttles the archive sweep; retry and sync run every cycle.
	ArchiveEvery time.Duration
}

// NewPaymentJobs returns the retry, sync and archive jobs.
func NewPaymentJobs(params PaymentJobParams) ([]Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	archiveEvery := params.ArchiveEvery
	if archiveEvery <= 0 {
		archiveEvery = 24 * time.Hour
	}
	svc := params.Payments
	return []Job{
		&summaryJob{name: payments.JobPaymentRetry, logg: params.Logger, run: svc.RetryFailed},
		&summaryJob{name: payments.JobPaymentSync, logg: params.Logger, run: svc.SyncPending},
		&summaryJob{name: payments.JobPaymentArchive, every: archiveEvery, logg: params.Logger, run: svc.ArchiveFailed},
	}, nil
}
