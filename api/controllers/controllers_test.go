package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubPayments struct {
	intent   *payments.IntentResult
	verify   *payments.VerifyResult
	err      error
	lastIn   payments.VerifyInput
	refundIn payments.RefundInput
	summary  *payments.RunSummary
}

func (s *stubPayments) CreateIntent(ctx context.Context, orderID uuid.UUID) (*payments.IntentResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.intent
	out.OrderID = orderID
	return &out, nil
}

func (s *stubPayments) VerifyCallback(ctx context.Context, input payments.VerifyInput) (*payments.VerifyResult, error) {
	s.lastIn = input
	return s.verify, s.err
}

func (s *stubPayments) RecordRefund(ctx context.Context, input payments.RefundInput) (*models.Payment, error) {
	s.refundIn = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Payment{ID: input.PaymentID, Status: enums.PaymentStatusCaptured, RefundedMinor: input.AmountMinor}, nil
}

func (s *stubPayments) RetryFailed(ctx context.Context) (*payments.RunSummary, error) {
	return s.summary, s.err
}

func (s *stubPayments) SyncPending(ctx context.Context) (*payments.RunSummary, error) {
	return s.summary, s.err
}

func (s *stubPayments) ArchiveFailed(ctx context.Context) (*payments.RunSummary, error) {
	return s.summary, s.err
}

type stubCart struct {
	cart      *models.Cart
	err       error
	lastToken string
}

func (s *stubCart) AddItem(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error) {
	s.lastToken = token
	return s.cart, s.err
}

func (s *stubCart) GetCart(ctx context.Context, token string) (*models.Cart, error) {
	s.lastToken = token
	return s.cart, s.err
}

func (s *stubCart) UpdateItemQuantity(ctx context.Context, token string, variantID uuid.UUID, quantity int) (*models.Cart, error) {
	s.lastToken = token
	return s.cart, s.err
}

func (s *stubCart) RemoveItem(ctx context.Context, token string, variantID uuid.UUID) (*models.Cart, error) {
	s.lastToken = token
	return s.cart, s.err
}

type stubOrders struct {
	input  orders.CreateOrderInput
	transi orders.TransitionInput
	err    error
}

func (s *stubOrders) CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*orders.CreateOrderResult, error) {
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	order := &models.Order{ID: uuid.New(), OrderNumber: "ORD-20261015-ABC123", Status: enums.OrderStatusPending, TotalMinor: 6080}
	return &orders.CreateOrderResult{
		Order:   order,
		Payment: &models.Payment{ID: uuid.New(), OrderID: order.ID, Status: enums.PaymentStatusPending, AmountMinor: 6080},
	}, nil
}

func (s *stubOrders) GetOrder(ctx context.Context, orderNumber string) (*orders.OrderDetail, error) {
	if s.err != nil {
		return nil, s.err
	}
	order := &models.Order{ID: uuid.New(), OrderNumber: orderNumber, Status: enums.OrderStatusConfirmed}
	return &orders.OrderDetail{Order: order, Payments: []models.Payment{{ID: uuid.New(), OrderID: order.ID, Status: enums.PaymentStatusCaptured}}}, nil
}

func (s *stubOrders) transition(input orders.TransitionInput, status enums.OrderStatus) (*models.Order, error) {
	s.transi = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: input.OrderID, Status: status}, nil
}

func (s *stubOrders) CancelOrder(ctx context.Context, input orders.TransitionInput) (*models.Order, error) {
	return s.transition(input, enums.OrderStatusCancelled)
}

func (s *stubOrders) ShipOrder(ctx context.Context, input orders.TransitionInput) (*models.Order, error) {
	return s.transition(input, enums.OrderStatusShipped)
}

func (s *stubOrders) DeliverOrder(ctx context.Context, input orders.TransitionInput) (*models.Order, error) {
	return s.transition(input, enums.OrderStatusDelivered)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Code
}

func withRouteParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestPaymentIntentCreate(t *testing.T) {
	svc := &stubPayments{intent: &payments.IntentResult{GatewayOrderID: "gw_1", AmountMinor: 6080, KeyID: "app-key"}}
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", strings.NewReader(`{"order_id":"`+orderID.String()+`"}`))
	resp := httptest.NewRecorder()
	PaymentIntentCreate(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	var out payments.IntentResult
	decodeData(t, resp, &out)
	assert.Equal(t, orderID, out.OrderID)
	assert.Equal(t, "gw_1", out.GatewayOrderID)

	svc.intent.Reused = true
	resp = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", strings.NewReader(`{"order_id":"`+orderID.String()+`"}`))
	PaymentIntentCreate(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestPaymentIntentCreateRejectsBadOrderID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", strings.NewReader(`{"order_id":"nope"}`))
	resp := httptest.NewRecorder()
	PaymentIntentCreate(&stubPayments{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, resp))
}

func TestPaymentVerifyPassesClientIP(t *testing.T) {
	paymentID := uuid.New()
	svc := &stubPayments{verify: &payments.VerifyResult{Outcome: payments.OutcomeCaptured, Success: true, PaymentID: paymentID}}

	body := `{"payment_id":"` + paymentID.String() + `","gateway_order_id":"gw_1","gateway_payment_id":"pay_1","signature":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.7:4431"
	resp := httptest.NewRecorder()
	middleware.ClientIP()(PaymentVerify(svc, nil)).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "198.51.100.7", svc.lastIn.ClientIP)
	assert.Equal(t, "pay_1", svc.lastIn.GatewayPaymentID)

	var out payments.VerifyResult
	decodeData(t, resp, &out)
	assert.Equal(t, payments.OutcomeCaptured, out.Outcome)
	assert.Empty(t, resp.Header().Get(middleware.IdempotencyReplayed))
}

func TestPaymentVerifyReplayUsesHeader(t *testing.T) {
	svc := &stubPayments{verify: &payments.VerifyResult{Outcome: payments.OutcomeCaptured, Success: true, Replayed: true}}

	body := `{"payment_id":"` + uuid.NewString() + `","gateway_order_id":"gw_1","gateway_payment_id":"pay_1","signature":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	resp := httptest.NewRecorder()
	PaymentVerify(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "true", resp.Header().Get(middleware.IdempotencyReplayed))
	assert.NotContains(t, resp.Body.String(), "replayed")
}

func TestPaymentVerifyErrorMapping(t *testing.T) {
	cases := []struct {
		code   pkgerrors.Code
		status int
	}{
		{pkgerrors.CodeInvalidSignature, http.StatusBadRequest},
		{pkgerrors.CodeFraudBlocked, http.StatusForbidden},
		{pkgerrors.CodeGatewayUnavailable, http.StatusServiceUnavailable},
		{pkgerrors.CodeIntegrityMismatch, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			svc := &stubPayments{err: pkgerrors.New(tc.code, "boom")}
			body := `{"payment_id":"` + uuid.NewString() + `","gateway_order_id":"gw","gateway_payment_id":"pay","signature":"sig"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
			resp := httptest.NewRecorder()
			PaymentVerify(svc, nil).ServeHTTP(resp, req)

			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, string(tc.code), errorCode(t, resp))
		})
	}
}

func TestAdminPaymentRefundUsesActor(t *testing.T) {
	svc := &stubPayments{}
	paymentID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":1000,"reason":" damaged "}`))
	req = withRouteParam(req, "paymentId", paymentID.String())
	req = req.WithContext(middleware.WithUserID(req.Context(), "admin-7"))
	resp := httptest.NewRecorder()
	AdminPaymentRefund(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "admin-7", svc.refundIn.ActorUserID)
	assert.Equal(t, "damaged", svc.refundIn.Reason)
	assert.Equal(t, int64(1000), svc.refundIn.AmountMinor)
	assert.Equal(t, paymentID, svc.refundIn.PaymentID)
}

func TestAdminPaymentRefundRejectsZeroAmount(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0}`))
	req = withRouteParam(req, "paymentId", uuid.NewString())
	resp := httptest.NewRecorder()
	AdminPaymentRefund(&stubPayments{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminReconcileReturnsSummary(t *testing.T) {
	svc := &stubPayments{summary: &payments.RunSummary{Job: "payment-retry", Scanned: 3, Succeeded: 2, Skipped: 1}}

	for _, handler := range []http.HandlerFunc{AdminPaymentsRetry(svc, nil), AdminPaymentsSync(svc, nil), AdminPaymentsCleanup(svc, nil)} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusOK, resp.Code)

		var out payments.RunSummary
		decodeData(t, resp, &out)
		assert.Equal(t, 3, out.Scanned)
	}

	resp := httptest.NewRecorder()
	AdminPaymentsRetry(svc, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, resp))
}

func TestCartAddItemSetsCookieForNewCart(t *testing.T) {
	cart := &models.Cart{ID: uuid.New(), Token: "tok_new", ExpiresAt: time.Now().Add(time.Hour)}
	svc := &stubCart{cart: cart}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"variant_id":"`+uuid.NewString()+`","quantity":2}`))
	resp := httptest.NewRecorder()
	CartAddItem(svc, CartCookie{Name: "sf_cart"}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "", svc.lastToken)
	assert.Equal(t, "tok_new", resp.Header().Get(middleware.CartTokenHeader))
	cookies := resp.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sf_cart", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestCartAddItemExistingCart(t *testing.T) {
	cart := &models.Cart{ID: uuid.New(), Token: "tok_1", ExpiresAt: time.Now().Add(time.Hour)}
	svc := &stubCart{cart: cart}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"variant_id":"`+uuid.NewString()+`","quantity":1}`))
	req.AddCookie(&http.Cookie{Name: "sf_cart", Value: "tok_1"})
	resp := httptest.NewRecorder()
	CartAddItem(svc, CartCookie{Name: "sf_cart"}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "tok_1", svc.lastToken)
	assert.Empty(t, resp.Result().Cookies())
}

func TestCartFetchPrefersHeader(t *testing.T) {
	svc := &stubCart{cart: &models.Cart{ID: uuid.New(), Token: "tok_header"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(middleware.CartTokenHeader, "tok_header")
	req.AddCookie(&http.Cookie{Name: middleware.CartCookieName, Value: "tok_cookie"})
	resp := httptest.NewRecorder()
	CartFetch(svc, CartCookie{}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "tok_header", svc.lastToken)
}

func TestCartFetchNotFound(t *testing.T) {
	svc := &stubCart{err: pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")}
	resp := httptest.NewRecorder()
	CartFetch(svc, CartCookie{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCartUpdateRequiresQuantity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items", strings.NewReader(`{"variant_id":"`+uuid.NewString()+`"}`))
	resp := httptest.NewRecorder()
	CartUpdateItem(&stubCart{}, CartCookie{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

const checkoutBody = `{
	"customer": {"email": "buyer@example.com", "name": "Asha Rao"},
	"shipping_address": {"line1": "12 MG Road", "city": "Bengaluru", "state": "KA", "postal_code": "560001", "country": "IN"}
}`

func TestCheckoutCreatesOrder(t *testing.T) {
	svc := &stubOrders{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody))
	req.Header.Set(middleware.CartTokenHeader, "tok_1")
	resp := httptest.NewRecorder()
	Checkout(svc, CartCookie{}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "tok_1", svc.input.CartToken)
	assert.Equal(t, "buyer@example.com", svc.input.Customer.Email)
	assert.Equal(t, "IN", svc.input.ShippingAddress.Country)

	var out checkoutResponse
	decodeData(t, resp, &out)
	assert.Equal(t, int64(6080), out.Order.Total)
	assert.Equal(t, enums.PaymentStatusPending, out.Payment.Status)
}

func TestCheckoutRequiresCartToken(t *testing.T) {
	resp := httptest.NewRecorder()
	Checkout(&stubOrders{}, CartCookie{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody)))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody))
	req.Header.Set(middleware.CartTokenHeader, "tok_1")
	resp := httptest.NewRecorder()
	Checkout(svc, CartCookie{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeEmptyCart), errorCode(t, resp))
}

func TestOrderDetailIncludesPayments(t *testing.T) {
	req := withRouteParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderNumber", "ORD-20261015-ABC123")
	resp := httptest.NewRecorder()
	OrderDetail(&stubOrders{}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out orderResponse
	decodeData(t, resp, &out)
	assert.Equal(t, "ORD-20261015-ABC123", out.OrderNumber)
	require.Len(t, out.Payments, 1)
	assert.Equal(t, enums.PaymentStatusCaptured, out.Payments[0].Status)
}

func TestAdminShipOrderWithoutBody(t *testing.T) {
	svc := &stubOrders{}
	orderID := uuid.New()

	req := withRouteParam(httptest.NewRequest(http.MethodPost, "/", nil), "orderId", orderID.String())
	req = req.WithContext(middleware.WithUserID(req.Context(), "ops-1"))
	resp := httptest.NewRecorder()
	AdminShipOrder(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, orderID, svc.transi.OrderID)
	assert.Equal(t, "ops-1", svc.transi.ActorUserID)
}

func TestAdminCancelOrderStateConflict(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeStateConflict, "shipped orders cannot be cancelled")}

	req := withRouteParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"customer request"}`)), "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	AdminCancelOrder(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "customer request", svc.transi.Reason)
}

func TestAdminOrderRejectsBadID(t *testing.T) {
	req := withRouteParam(httptest.NewRequest(http.MethodPost, "/", nil), "orderId", "42")
	resp := httptest.NewRecorder()
	AdminDeliverOrder(&stubOrders{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get("X-Storefront-Env"))

	resp = httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
