package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type counterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// CallbackThrottlePolicy bounds payment callbacks per client IP and per
// payment. Counters live in Redis so the limit holds across API instances.
type CallbackThrottlePolicy struct {
	Window       time.Duration
	IPLimit      int
	PaymentLimit int
}

func (p CallbackThrottlePolicy) enabled() bool {
	return p.Window > 0 && (p.IPLimit > 0 || p.PaymentLimit > 0)
}

// CallbackThrottle enforces the policy on payment verification requests.
// Redis errors fail open; the signature check still guards the endpoint.
func CallbackThrottle(policy CallbackThrottlePolicy, store counterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.IPLimit > 0 {
				ip := ClientIPFromContext(ctx)
				if ip == "" {
					ip = clientIP(r)
				}
				if !throttleAllow(ctx, logg, store, "verify:ip:"+ip, policy.Window, policy.IPLimit) {
					respondThrottled(ctx, logg, w, "ip", ip)
					return
				}
			}

			if policy.PaymentLimit > 0 {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				if paymentID := extractPaymentID(body); paymentID != "" {
					if !throttleAllow(ctx, logg, store, "verify:payment:"+paymentID, policy.Window, policy.PaymentLimit) {
						respondThrottled(ctx, logg, w, "payment", paymentID)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func throttleAllow(ctx context.Context, logg *logger.Logger, store counterStore, scope string, window time.Duration, limit int) bool {
	allowed, _, err := store.FixedWindowAllow(ctx, scope, int64(limit), window)
	if err != nil {
		if logg != nil {
			logg.Error(ctx, "callback throttle unavailable", err)
		}
		return true
	}
	return allowed
}

func respondThrottled(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, scope, value string) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{"scope": scope, "value": value}), "payment.callback.throttled")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, fmt.Sprintf("too many verification attempts per %s", scope)))
}

func extractPaymentID(payload []byte) string {
	var body struct {
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.PaymentID)
}
