package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var baseURLs = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errLoggerRequired      = errors.New("square logger is required")
)

// Client is the slice of the Square API the storefront needs: opening an
// order for a checkout total and reading back the payment made against it.
type Client struct {
	sdk           *sqclient.Client
	locationID    string
	applicationID string
	logger        *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("unknown square environment %q", env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	location := strings.TrimSpace(cfg.LocationID)
	if location == "" {
		return nil, errLocationRequired
	}

	c := &Client{
		sdk:           sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token)),
		locationID:    location,
		applicationID: strings.TrimSpace(cfg.ApplicationID),
		logger:        logg,
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"squareEnv": env, "locationId": location}), "square client initialized")
	return c, nil
}

// ApplicationID is the public id the browser SDK needs to tokenize cards.
func (c *Client) ApplicationID() string {
	if c == nil {
		return ""
	}
	return c.applicationID
}

// CreateOrder opens a Square order for a storefront total. A blank
// idempotency key gets a generated one, so callers that care about replays
// must pass their own.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*sq.Order, error) {
	key := strings.TrimSpace(params.IdempotencyKey)
	if key == "" {
		key = "order-" + uuid.NewString()
	}

	var order *sq.Order
	err := c.call(ctx, "create_order", map[string]any{
		"referenceId": params.ReferenceID,
		"amount":      params.AmountMinor,
		"currency":    params.Currency,
	}, func() (map[string]any, error) {
		resp, err := c.sdk.Orders.Create(ctx, params.toSquareRequest(c.locationID, key))
		if err != nil {
			return nil, err
		}
		if order = resp.GetOrder(); order == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "square create order returned no order")
		}
		return map[string]any{"squareOrderId": stringValue(order.GetID())}, nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetPayment reads a payment by its Square id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var payment *sq.Payment
	err := c.call(ctx, "get_payment", map[string]any{"squarePaymentId": paymentID}, func() (map[string]any, error) {
		resp, err := c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
		if err != nil {
			return nil, err
		}
		if payment = resp.GetPayment(); payment == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square payment not found")
		}
		return map[string]any{
			"status":        stringValue(payment.GetStatus()),
			"squareOrderId": stringValue(payment.GetOrderID()),
			"buyerEmail":    maskEmail(stringValue(payment.GetBuyerEmailAddress())),
			"sourceType":    stringValue(payment.GetSourceType()),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// call runs one SDK request and logs it once with its latency. Errors that
// are not already typed are classified from the Square response.
func (c *Client) call(ctx context.Context, op string, fields map[string]any, fn func() (map[string]any, error)) error {
	started := time.Now()
	result, err := fn()

	logFields := map[string]any{"squareOp": op, "durationMs": time.Since(started).Milliseconds()}
	for k, v := range fields {
		logFields[k] = v
	}
	for k, v := range result {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)

	if err != nil {
		if pkgerrors.As(err) == nil {
			err = classify(err, op)
		}
		c.logger.Error(ctx, "square call failed", err)
		return err
	}
	c.logger.Info(ctx, "square call completed")
	return nil
}

// classify maps a Square SDK failure to a domain error code. Transport
// failures and 5xx responses are dependency errors.
func classify(err error, op string) error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" failed")
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, sqErr := range squareErrors(apiErr) {
		switch {
		case sqErr.Code == sq.ErrorCodeIdempotencyKeyReused:
			code = pkgerrors.CodeIdempotency
		case sqErr.Category == sq.ErrorCategoryAuthenticationError:
			code = pkgerrors.CodeUnauthorized
		case sqErr.Category == sq.ErrorCategoryRateLimitError:
			code = pkgerrors.CodeRateLimit
		default:
			continue
		}
		break
	}
	return pkgerrors.Wrap(code, err, "square "+op+" failed")
}

func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(inner.Error()), &payload); err != nil {
		return nil
	}
	out := payload.Errors[:0]
	for _, e := range payload.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

// maskEmail keeps the first letter and the domain so support can correlate a
// payment with a customer without the address landing in logs.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:1] + "***" + email[at:]
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
