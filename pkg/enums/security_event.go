package enums

import "fmt"

// SecurityEventType classifies security log rows.
type SecurityEventType string

const (
	SecurityEventSignatureInvalid  SecurityEventType = "signature_invalid"
	SecurityEventIntegrityMismatch SecurityEventType = "integrity_mismatch"
	SecurityEventFraudBlocked      SecurityEventType = "fraud_blocked"
	SecurityEventFraudFlagged      SecurityEventType = "fraud_flagged"
	SecurityEventPaymentTransition SecurityEventType = "payment_transition"
	SecurityEventInventoryOversold SecurityEventType = "inventory_oversold"
	SecurityEventAdminAction       SecurityEventType = "admin_action"
)

var validSecurityEventTypes = []SecurityEventType{
	SecurityEventSignatureInvalid,
	SecurityEventIntegrityMismatch,
	SecurityEventFraudBlocked,
	SecurityEventFraudFlagged,
	SecurityEventPaymentTransition,
	SecurityEventInventoryOversold,
	SecurityEventAdminAction,
}

// String implements fmt.Stringer.
func (s SecurityEventType) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SecurityEventType.
func (s SecurityEventType) IsValid() bool {
	for _, candidate := range validSecurityEventTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSecurityEventType converts raw input into a SecurityEventType.
func ParseSecurityEventType(value string) (SecurityEventType, error) {
	for _, candidate := range validSecurityEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid security event type %q", value)
}

// Severity grades a security log row.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var validSeveritys = []Severity{
	SeverityInfo,
	SeverityWarning,
	SeverityCritical,
}

// String implements fmt.Stringer.
func (s Severity) String() string {
	return string(s)
}

// IsValid reports whether the value is a known Severity.
func (s Severity) IsValid() bool {
	for _, candidate := range validSeveritys {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSeverity converts raw input into a Severity.
func ParseSeverity(value string) (Severity, error) {
	for _, candidate := range validSeveritys {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid severity %q", value)
}
