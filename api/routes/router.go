package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// RedisStore is the subset of the redis client the HTTP layer needs for
// idempotency replay and callback throttling.
type RedisStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    RedisStore
	Pinger   controllers.Pinger
	Carts    cart.Service
	Orders   orders.Service
	Payments payments.Service
	Gatherer prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	cookie := controllers.CartCookie{Name: cfg.Cart.CookieName, Secure: cfg.App.IsProd()}
	idempotency := middleware.Idempotency(deps.Redis, cookie.Name, logg)
	throttle := middleware.CallbackThrottle(middleware.CallbackThrottlePolicy{
		Window:       cfg.RateLimit.CallbackWindow,
		IPLimit:      cfg.RateLimit.CallbackIPLimit,
		PaymentLimit: cfg.RateLimit.CallbackPaymentLimit,
	}, deps.Redis, logg)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.ClientIP(),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Pinger,
		}))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Limit(logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(deps.Carts, cookie, logg))
			r.Post("/items", controllers.CartAddItem(deps.Carts, cookie, logg))
			r.Patch("/items", controllers.CartUpdateItem(deps.Carts, cookie, logg))
			r.Delete("/items", controllers.CartRemoveItem(deps.Carts, cookie, logg))
		})

		r.With(idempotency).Post("/checkout", controllers.Checkout(deps.Orders, cookie, logg))
		r.Get("/orders/{orderNumber}", controllers.OrderDetail(deps.Orders, logg))

		r.Route("/payments", func(r chi.Router) {
			r.With(idempotency).Post("/intents", controllers.PaymentIntentCreate(deps.Payments, logg))
			r.With(throttle).Post("/verify", controllers.PaymentVerify(deps.Payments, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(idempotency)

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/cancel", controllers.AdminCancelOrder(deps.Orders, logg))
			r.Post("/ship", controllers.AdminShipOrder(deps.Orders, logg))
			r.Post("/deliver", controllers.AdminDeliverOrder(deps.Orders, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/retry", controllers.AdminPaymentsRetry(deps.Payments, logg))
			r.Post("/sync", controllers.AdminPaymentsSync(deps.Payments, logg))
			r.Post("/cleanup", controllers.AdminPaymentsCleanup(deps.Payments, logg))
			r.Post("/{paymentId}/refund", controllers.AdminPaymentRefund(deps.Payments, logg))
		})
	})

	return r
}
