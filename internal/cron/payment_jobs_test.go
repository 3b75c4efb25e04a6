package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/payments"
)

type fakePayments struct {
	calls []string
	err   error
}

func (f *fakePayments) RetryFailed(context.Context) (*payments.RunSummary, error) {
	f.calls = append(f.calls, payments.JobPaymentRetry)
	return &payments.RunSummary{Job: payments.JobPaymentRetry, Scanned: 2, Succeeded: 1, Failed: 1}, f.err
}

func (f *fakePayments) SyncPending(context.Context) (*payments.RunSummary, error) {
	f.calls = append(f.calls, payments.JobPaymentSync)
	return &payments.RunSummary{Job: payments.JobPaymentSync}, nil
}

func (f *fakePayments) ArchiveFailed(context.Context) (*payments.RunSummary, error) {
	f.calls = append(f.calls, payments.JobPaymentArchive)
	return &payments.RunSummary{Job: payments.JobPaymentArchive}, nil
}

func TestPaymentJobsDelegate(t *testing.T) {
	svc := &fakePayments{err: errors.New("order ORD-1: gateway down")}
	jobs, err := NewPaymentJobs(PaymentJobParams{Logger: testLogger(), Payments: svc})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	registry := NewRegistry(jobs...)
	for _, name := range []string{payments.JobPaymentRetry, payments.JobPaymentSync, payments.JobPaymentArchive} {
		job, ok := registry.Find(name)
		require.True(t, ok, name)
		runErr := job.Run(context.Background())
		if name == payments.JobPaymentRetry {
			assert.ErrorContains(t, runErr, "payment-retry")
		} else {
			assert.NoError(t, runErr)
		}
	}
	assert.Equal(t, []string{payments.JobPaymentRetry, payments.JobPaymentSync, payments.JobPaymentArchive}, svc.calls)

	archive, _ := registry.Find(payments.JobPaymentArchive)
	assert.Equal(t, 24*time.Hour, archive.(Scheduled).Every())
	retry, _ := registry.Find(payments.JobPaymentRetry)
	assert.Zero(t, retry.(Scheduled).Every())
}

type fakeCarts struct {
	limit int
	err   error
}

func (f *fakeCarts) ExpireStale(_ context.Context, limit int) (int64, error) {
	f.limit = limit
	return 3, f.err
}

func TestCartExpiryJob(t *testing.T) {
	carts := &fakeCarts{}
	job, err := NewCartExpiryJob(CartExpiryJobParams{Logger: testLogger(), Carts: carts})
	require.NoError(t, err)
	assert.Equal(t, "cart-expiry", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, cartExpiryBatch, carts.limit)

	carts.err = errors.New("boom")
	assert.Error(t, job.Run(context.Background()))
}
