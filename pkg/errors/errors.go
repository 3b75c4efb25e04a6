package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible classification of a failure.
type Code string

// Generic codes.
const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Checkout and payment codes.
const (
	CodeAlreadyProcessed      Code = "ALREADY_PROCESSED"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeIntegrityMismatch     Code = "INTEGRITY_MISMATCH"
	CodeFraudBlocked          Code = "FRAUD_BLOCKED"
	CodeGatewayUnavailable    Code = "GATEWAY_UNAVAILABLE"
	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	CodeEmptyCart             Code = "EMPTY_CART"
)

// Metadata drives how a code is rendered over HTTP. PublicMessage replaces
// the internal message unless DetailsAllowed is set.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable = true
	final     = false
	details   = true
	opaque    = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, final, "validation failed", details},
	CodeUnauthorized:  {http.StatusUnauthorized, final, "authentication required", opaque},
	CodeForbidden:     {http.StatusForbidden, final, "access denied", opaque},
	CodeNotFound:      {http.StatusNotFound, final, "resource not found", opaque},
	CodeConflict:      {http.StatusConflict, final, "conflict detected", opaque},
	CodeStateConflict: {http.StatusUnprocessableEntity, final, "state transition disallowed", details},
	CodeIdempotency:   {http.StatusConflict, final, "idempotency key reused", details},
	CodeRateLimit:     {http.StatusTooManyRequests, final, "rate limit exceeded", opaque},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", opaque},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", details},

	// 200: a repeated verify of a settled payment is a no-op, not a failure
	CodeAlreadyProcessed: {http.StatusOK, final, "payment already processed", details},
	// signature and integrity failures share a message so probing learns nothing
	CodeInvalidSignature:      {http.StatusBadRequest, final, "payment verification failed", opaque},
	CodeIntegrityMismatch:     {http.StatusBadRequest, final, "payment verification failed", opaque},
	CodeFraudBlocked:          {http.StatusForbidden, final, "payment could not be completed", opaque},
	CodeGatewayUnavailable:    {http.StatusServiceUnavailable, retryable, "payment provider unavailable", opaque},
	CodeInsufficientInventory: {http.StatusConflict, final, "insufficient inventory", details},
	CodeEmptyCart:             {http.StatusBadRequest, final, "cart is empty", opaque},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error carries a Code, a message for logs and clients, optional structured
// details and the underlying cause.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code is nil-safe; a nil *Error reads as CodeInternal.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
