// Package bootstrap wires the storefront services shared by the API and the
// cron worker.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/audit"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/fraud"
	"github.com/angelmondragon/storefront-backend/internal/gateway"
	"github.com/angelmondragon/storefront-backend/internal/idempotency"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/pricing"
	"github.com/angelmondragon/storefront-backend/internal/signature"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/square"
)

// Services is the wired domain layer.
type Services struct {
	Carts    cart.Service
	Orders   orders.Service
	Payments payments.Service
	Gateway  gateway.Gateway
}

// Build constructs every service over the shared db and redis clients.
// Without Square credentials a dev environment falls back to the in-memory
// gateway; any other environment refuses to start.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	currency, err := enums.ParseCurrency(cfg.Payments.Currency)
	if err != nil {
		return nil, fmt.Errorf("payments currency: %w", err)
	}
	snapshot, err := pricing.NewSnapshot(cfg.Pricing)
	if err != nil {
		return nil, fmt.Errorf("pricing snapshot: %w", err)
	}

	paymentMetrics := metrics.NewPaymentMetrics(reg)

	remote, keyID, err := buildGateway(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.NewGuarded(remote, gateway.GuardOptions{
		Timeout:          cfg.Payments.GatewayTimeout,
		FailureThreshold: cfg.Payments.BreakerFailureThreshold,
		OpenTimeout:      cfg.Payments.BreakerOpenTimeout,
		Metrics:          paymentMetrics,
		Logger:           logg,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway guard: %w", err)
	}

	conn := dbClient.DB()
	inv := inventory.NewService()
	cartRepo := cart.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	carts, err := cart.NewService(dbClient, cartRepo, inv, snapshot, cfg.Cart, currency)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}
	orderSvc, err := orders.NewService(orderRepo, cartRepo, dbClient, events, inv, snapshot, gw.Name())
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	verifier, err := signature.NewVerifier(cfg.Payments.SignatureSecret)
	if err != nil {
		return nil, fmt.Errorf("signature verifier: %w", err)
	}
	store, err := idempotency.NewStore(redisClient, idempotency.ScopePaymentVerify, cfg.Payments.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:        payments.NewRepository(conn),
		Orders:      orderRepo,
		Tx:          dbClient,
		Gateway:     gw,
		Verifier:    verifier,
		Idempotency: store,
		Scorer:      fraud.NewHeuristicScorer(fraud.RulesFromConfig(cfg.Fraud)),
		History:     fraud.NewHistoryProvider(conn, redisClient, cfg.Fraud.VelocityWindow, logg),
		Inventory:   inv,
		Outbox:      events,
		Audit:       audit.NewLogger(conn, logg),
		Metrics:     paymentMetrics,
		Logger:      logg,
		Config:      cfg.Payments,
		KeyID:       keyID,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	return &Services{Carts: carts, Orders: orderSvc, Payments: paymentSvc, Gateway: gw}, nil
}

func buildGateway(ctx context.Context, cfg *config.Config, logg *logger.Logger) (gateway.Gateway, string, error) {
	if strings.TrimSpace(cfg.Square.AccessToken) == "" {
		if !cfg.App.IsDev() {
			return nil, "", fmt.Errorf("square access token required outside dev")
		}
		logg.Warn(ctx, "square credentials missing, using in-memory gateway")
		return gateway.NewMemory(), "memory", nil
	}

	client, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return nil, "", fmt.Errorf("square client: %w", err)
	}
	gw, err := gateway.NewSquare(client)
	if err != nil {
		return nil, "", err
	}
	return gw, client.ApplicationID(), nil
}
