package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader  = "Idempotency-Key"
	IdempotencyReplayed   = "Idempotent-Replayed"
	inFlightTTL           = 30 * time.Second
	maxIdempotencyKeySize = 255
)

// replayRoute lists a mutating endpoint whose successful responses are
// replayed for a repeated key. Money-moving routes keep records longer.
type replayRoute struct {
	method string
	match  func(path string) bool
	ttl    time.Duration
}

var replayRoutes = []replayRoute{
	{http.MethodPost, func(p string) bool { return p == "/api/v1/checkout" }, 7 * 24 * time.Hour},
	{http.MethodPost, func(p string) bool { return p == "/api/v1/payments/intents" }, 24 * time.Hour},
	{http.MethodPost, func(p string) bool {
		return strings.HasPrefix(p, "/api/admin/v1/payments/") && strings.HasSuffix(p, "/refund")
	}, 7 * 24 * time.Hour},
	{http.MethodPost, func(p string) bool { return strings.HasPrefix(p, "/api/admin/v1/orders/") }, 24 * time.Hour},
}

func replayTTL(method, path string) (time.Duration, bool) {
	for _, route := range replayRoutes {
		if route.method == method && route.match(path) {
			return route.ttl, true
		}
	}
	return 0, false
}

// storedResponse is what a replay writes back. InFlight marks a key whose
// first request has not finished yet.
type storedResponse struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency requires an Idempotency-Key on the replay routes and answers
// repeats from Redis. Keys are scoped to the caller (admin user or cart) so
// two shoppers cannot collide. A key is claimed before the handler runs;
// a concurrent duplicate gets 409 and a failed first attempt frees the key.
func Idempotency(store pkgredis.IdempotencyStore, cartCookie string, logg *logger.Logger) func(http.Handler) http.Handler {
	if cartCookie == "" {
		cartCookie = CartCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := replayTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" || len(clientKey) > maxIdempotencyKeySize {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required (max 255 characters)"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := digest(body)
			key := store.IdempotencyKey(callerScope(r, cartCookie), clientKey)

			claimed, err := claim(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if !claimed {
				replay(ctx, logg, w, store, key, hash)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if err := settle(ctx, store, key, hash, capture, ttl); err != nil && logg != nil {
				logg.Error(logg.WithField(ctx, "idempotencyKey", clientKey), "idempotency record not saved", err)
			}
		})
	}
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	marker, _ := json.Marshal(storedResponse{InFlight: true, RequestHash: hash})
	return store.SetNX(ctx, key, string(marker), inFlightTTL)
}

// settle swaps the in-flight marker for the final response. Non-2xx responses
// only release the key so the client may retry.
func settle(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, capture *responseCapture, ttl time.Duration) error {
	// the handler's ctx may already be cancelled by a disconnected client
	ctx = context.WithoutCancel(ctx)
	if err := store.Del(ctx, key); err != nil {
		return err
	}
	status := capture.statusCode()
	if status < 200 || status >= 300 {
		return nil
	}
	record, err := json.Marshal(storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
		RequestHash: hash,
	})
	if err != nil {
		return err
	}
	_, err = store.SetNX(ctx, key, string(record), ttl)
	return err
}

func replay(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, hash string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the first attempt failed and released the key between our claim and read
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried; try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.InFlight:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
	default:
		payload, err := base64.StdEncoding.DecodeString(stored.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
			return
		}
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(IdempotencyReplayed, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(payload)
	}
}

// callerScope keys admin requests by user and storefront requests by the
// hashed cart credential.
func callerScope(r *http.Request, cartCookie string) string {
	caller := UserIDFromContext(r.Context())
	if caller == "" {
		token := strings.TrimSpace(r.Header.Get(CartTokenHeader))
		if token == "" {
			if c, err := r.Cookie(cartCookie); err == nil {
				token = c.Value
			}
		}
		if token != "" {
			caller = "cart:" + digest([]byte(token))[:16]
		}
	}
	return caller + "|" + r.Method + " " + r.URL.Path
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
