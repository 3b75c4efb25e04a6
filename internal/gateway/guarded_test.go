package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type slowGateway struct {
	*Memory
	delay time.Duration
}

func (s slowGateway) FetchPayment(ctx context.Context, id string) (*RemotePayment, error) {
	select {
	case <-time.After(s.delay):
		return s.Memory.FetchPayment(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestGuardedPassesThroughSuccess(t *testing.T) {
	mem := NewMemory()
	g, err := NewGuarded(mem, GuardOptions{})
	require.NoError(t, err)

	order, err := g.CreateRemoteOrder(context.Background(), RemoteOrderRequest{Amount: 1000, Currency: enums.CurrencyINR, Receipt: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), order.Amount)
	assert.Equal(t, "memory", g.Name())

	mem.PutPayment(RemotePayment{ID: "pay_1", OrderID: order.ID, Status: StatusCaptured, Amount: 1000, Currency: enums.CurrencyINR})
	payment, err := g.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, payment.Status)
}

func TestGuardedTranslatesTransportErrors(t *testing.T) {
	mem := NewMemory()
	mem.CreateErr = errors.New("dial tcp: connection refused")
	g, err := NewGuarded(mem, GuardOptions{})
	require.NoError(t, err)

	_, err = g.CreateRemoteOrder(context.Background(), RemoteOrderRequest{Amount: 1})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeGatewayUnavailable).Retryable)
}

func TestGuardedKeepsNotFound(t *testing.T) {
	g, err := NewGuarded(NewMemory(), GuardOptions{FailureThreshold: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = g.FetchPayment(context.Background(), "missing")
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	}
}

func TestGuardedOpensBreaker(t *testing.T) {
	mem := NewMemory()
	mem.FetchErr = errors.New("upstream 502")
	g, err := NewGuarded(mem, GuardOptions{FailureThreshold: 2, OpenTimeout: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = g.FetchPayment(context.Background(), "pay")
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	}
	require.Equal(t, 2, mem.FetchCalls())

	_, err = g.FetchPayment(context.Background(), "pay")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.Equal(t, 2, mem.FetchCalls(), "open breaker must short-circuit")
}

func TestGuardedAppliesTimeout(t *testing.T) {
	mem := NewMemory()
	mem.PutPayment(RemotePayment{ID: "pay"})
	reg := prometheus.NewRegistry()
	g, err := NewGuarded(slowGateway{Memory: mem, delay: time.Second}, GuardOptions{
		Timeout: 20 * time.Millisecond,
		Metrics: metrics.NewPaymentMetrics(reg),
	})
	require.NoError(t, err)

	_, err = g.FetchPayment(context.Background(), "pay")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))

	families, err := reg.Gather()
	require.NoError(t, err)
	var failures *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "storefront_gateway_failures_total" {
			failures = f
		}
	}
	require.NotNil(t, failures)
	assert.Equal(t, 1.0, failures.GetMetric()[0].GetCounter().GetValue())
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusCaptured, ParseStatus("COMPLETED"))
	assert.Equal(t, StatusAuthorized, ParseStatus("approved"))
	assert.Equal(t, StatusFailed, ParseStatus("Canceled"))
	assert.Equal(t, StatusPending, ParseStatus("PENDING"))
	assert.Equal(t, StatusPending, ParseStatus(""))
	assert.Equal(t, enums.PaymentStatusCaptured, StatusCaptured.PaymentStatus())
	assert.Equal(t, enums.PaymentStatusFailed, StatusFailed.PaymentStatus())
}
