package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type fakeRedis struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
	incrErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, counters: map[string]int64{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (f *fakeRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return false, 0, f.incrErr
	}
	f.counters[scope]++
	return f.counters[scope] <= limit, f.counters[scope], nil
}

func decodeError(t *testing.T, body io.Reader) types.APIError {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env.Error
}

func TestAuthAndRequireRole(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "storefront", ExpirationMinutes: 5}
	var seenUser string
	handler := Auth(cfg, nil)(RequireRole(nil, enums.ActorRoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/payments/retry", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := call("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeUnauthorized), decodeError(t, rec.Body).Code)

	assert.Equal(t, http.StatusUnauthorized, call("Bearer not-a-jwt").Code)

	operator, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{Subject: "op-1", Role: enums.ActorRoleOperator})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+operator).Code)

	admin, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{Subject: "admin-1", Role: enums.ActorRoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, call("Bearer "+admin).Code)
	assert.Equal(t, "admin-1", seenUser)
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewRateLimiter(1, 2, time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	handler := ClientIP()(limiter.Limit(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"), "buckets are per ip")

	clock = clock.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1"), "bucket refills")

	clock = clock.Add(2 * time.Minute)
	call("10.0.0.3")
	limiter.mu.Lock()
	assert.Len(t, limiter.visitors, 1, "idle visitors swept")
	limiter.mu.Unlock()
}

func TestCallbackThrottle(t *testing.T) {
	store := newFakeRedis()
	policy := CallbackThrottlePolicy{Window: time.Minute, IPLimit: 10, PaymentLimit: 2}
	var bodies []string
	handler := ClientIP()(CallbackThrottle(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusOK)
	})))

	call := func(paymentID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(`{"payment_id":"`+paymentID+`"}`))
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("p1"))
	assert.Equal(t, http.StatusOK, call("p1"))
	assert.Equal(t, http.StatusTooManyRequests, call("p1"))
	assert.Equal(t, http.StatusOK, call("p2"))
	assert.Equal(t, `{"payment_id":"p1"}`, bodies[0], "body is restored for the handler")

	store.incrErr = fmt.Errorf("redis down")
	assert.Equal(t, http.StatusOK, call("p1"), "fails open")
}

func TestIdempotencyReplaysSuccessfulResponses(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	handler := Idempotency(store, "", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	call := func(key, body, cart string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		if cart != "" {
			req.AddCookie(&http.Cookie{Name: CartCookieName, Value: cart})
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := call("k1", `{"a":1}`, "cart-a")
	require.Equal(t, http.StatusCreated, first.Code)
	second := call("k1", `{"a":1}`, "cart-a")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(IdempotencyReplayed))
	assert.Empty(t, first.Header().Get(IdempotencyReplayed))
	assert.Equal(t, 1, calls)

	reused := call("k1", `{"a":2}`, "cart-a")
	assert.Equal(t, http.StatusConflict, reused.Code)

	other := call("k1", `{"a":1}`, "cart-b")
	assert.Equal(t, http.StatusCreated, other.Code)
	assert.Equal(t, 2, calls, "scope includes the cart")

	missing := call("", `{"a":1}`, "cart-a")
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestIdempotencySkipsFailuresAndOtherRoutes(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	handler := Idempotency(store, "", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "k")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls, "failed responses are not stored")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(`{}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 3, calls, "verify has its own replay store")
	assert.Empty(t, store.data, "released keys leave nothing behind")
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeRedis()
	var duplicate *httptest.ResponseRecorder
	var handler http.Handler
	newRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"a":1}`))
		req.Header.Set("Idempotency-Key", "k1")
		req.Header.Set(CartTokenHeader, "cart-a")
		return req
	}
	handler = Idempotency(store, "", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// a double-submit arriving while the first request is still running
		duplicate = httptest.NewRecorder()
		handler.ServeHTTP(duplicate, newRequest())
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), decodeError(t, duplicate.Body).Code)
}

func TestIdempotencyScopesAdminKeysByUser(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	handler := Idempotency(store, "", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for _, user := range []string{"admin-1", "admin-2", "admin-1"} {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/o-1/cancel", nil)
		req.Header.Set("Idempotency-Key", "cancel-o-1")
		req = req.WithContext(WithUserID(req.Context(), user))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestRequestIDKeepsOnlyWellFormedIDs(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	var seen string
	h := RequestID(logg)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "lb-7f3a.01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "lb-7f3a.01", seen)
	assert.Equal(t, "lb-7f3a.01", rec.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "bad id\n{\"level\":\"fatal\"}")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotContains(t, seen, "fatal")
	assert.Len(t, seen, 36)
}

func TestRecovererWritesInternalError(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeInternal), decodeError(t, rec.Body).Code)

	abort := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
