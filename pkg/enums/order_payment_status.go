package enums

import "fmt"

// OrderPaymentStatus summarizes payment progress on the order row.
type OrderPaymentStatus string

const (
	OrderPaymentStatusPending           OrderPaymentStatus = "pending"
	OrderPaymentStatusAuthorized        OrderPaymentStatus = "authorized"
	OrderPaymentStatusPaid              OrderPaymentStatus = "paid"
	OrderPaymentStatusPartiallyRefunded OrderPaymentStatus = "partially_refunded"
	OrderPaymentStatusRefunded          OrderPaymentStatus = "refunded"
	OrderPaymentStatusFailed            OrderPaymentStatus = "failed"
)

var validOrderPaymentStatuss = []OrderPaymentStatus{
	OrderPaymentStatusPending,
	OrderPaymentStatusAuthorized,
	OrderPaymentStatusPaid,
	OrderPaymentStatusPartiallyRefunded,
	OrderPaymentStatusRefunded,
	OrderPaymentStatusFailed,
}

// String implements fmt.Stringer.
func (o OrderPaymentStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderPaymentStatus.
func (o OrderPaymentStatus) IsValid() bool {
	for _, candidate := range validOrderPaymentStatuss {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderPaymentStatus converts raw input into a OrderPaymentStatus.
func ParseOrderPaymentStatus(value string) (OrderPaymentStatus, error) {
	for _, candidate := range validOrderPaymentStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order payment status %q", value)
}
