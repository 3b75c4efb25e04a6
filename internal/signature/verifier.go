package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const separator = "|"

// Verifier checks the gateway callback signature: hex(HMAC-SHA256(secret,
// gatewayOrderID|gatewayPaymentID)). Every failure mode is InvalidSignature.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signature secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Sign returns the expected signature for the pair.
func (v *Verifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + separator + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) error {
	if v == nil || len(v.secret) == 0 {
		return invalid()
	}
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return invalid()
	}
	if strings.Contains(gatewayOrderID, separator) || strings.Contains(gatewayPaymentID, separator) {
		return invalid()
	}
	provided, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(provided) != sha256.Size {
		return invalid()
	}
	expected, _ := hex.DecodeString(v.Sign(gatewayOrderID, gatewayPaymentID))
	if !hmac.Equal(provided, expected) {
		return invalid()
	}
	return nil
}

func invalid() error {
	return pkgerrors.New(pkgerrors.CodeInvalidSignature, "payment signature is invalid")
}
