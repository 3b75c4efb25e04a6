package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	opCreateOrder  = "create_order"
	opFetchPayment = "fetch_payment"
)

// GuardOptions tunes the breaker and timeout around a gateway.
type GuardOptions struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Metrics          *metrics.PaymentMetrics
	Logger           *logger.Logger
}

// Guarded wraps a Gateway with a circuit breaker, a per-call timeout and
// latency metrics. Every failure leaves as a pkg/errors value.
type Guarded struct {
	next    Gateway
	timeout time.Duration
	metrics *metrics.PaymentMetrics
	logg    *logger.Logger

	orders   *gobreaker.CircuitBreaker[*RemoteOrder]
	payments *gobreaker.CircuitBreaker[*RemotePayment]
}

var _ Gateway = (*Guarded)(nil)

func NewGuarded(next Gateway, opts GuardOptions) (*Guarded, error) {
	if next == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	g := &Guarded{
		next:    next,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logg:    opts.Logger,
	}
	g.orders = gobreaker.NewCircuitBreaker[*RemoteOrder](g.settings(next.Name()+"."+opCreateOrder, opts))
	g.payments = gobreaker.NewCircuitBreaker[*RemotePayment](g.settings(next.Name()+"."+opFetchPayment, opts))
	return g, nil
}

func (g *Guarded) settings(name string, opts GuardOptions) gobreaker.Settings {
	threshold := opts.FailureThreshold
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if g.logg == nil {
				return
			}
			ctx := g.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			g.logg.Warn(ctx, "gateway circuit breaker state changed")
		},
	}
}

func (g *Guarded) Name() string {
	return g.next.Name()
}

func (g *Guarded) CreateRemoteOrder(ctx context.Context, req RemoteOrderRequest) (*RemoteOrder, error) {
	start := time.Now()
	order, err := g.orders.Execute(func() (*RemoteOrder, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.CreateRemoteOrder(callCtx, req)
	})
	g.metrics.ObserveGatewayCall(opCreateOrder, time.Since(start), err)
	if err != nil {
		return nil, g.translate(ctx, opCreateOrder, err)
	}
	if order == nil || order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway returned an empty order")
	}
	return order, nil
}

func (g *Guarded) FetchPayment(ctx context.Context, gatewayPaymentID string) (*RemotePayment, error) {
	start := time.Now()
	payment, err := g.payments.Execute(func() (*RemotePayment, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.FetchPayment(callCtx, gatewayPaymentID)
	})
	g.metrics.ObserveGatewayCall(opFetchPayment, time.Since(start), err)
	if err != nil {
		return nil, g.translate(ctx, opFetchPayment, err)
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway returned an empty payment")
	}
	return payment, nil
}

// translate keeps caller errors (unknown payment, bad request) and turns
// everything else into GatewayUnavailable.
func (g *Guarded) translate(ctx context.Context, op string, err error) error {
	if isCallerError(err) {
		return err
	}
	if g.logg != nil {
		g.logg.Warn(g.logg.WithField(ctx, "operation", op), fmt.Sprintf("gateway call failed: %v", err))
	}
	msg := fmt.Sprintf("payment gateway %s unavailable", op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		msg = "payment gateway temporarily disabled"
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, msg)
}

func isCallerError(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeValidation)
}
