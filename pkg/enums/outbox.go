package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to. It also
// picks the Pub/Sub topic the relay publishes to.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregatePayment   OutboxAggregateType = "payment"
	AggregateInventory OutboxAggregateType = "inventory"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateOrder, AggregatePayment, AggregateInventory:
		return true
	}
	return false
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the event_type attribute consumers filter on.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderCancelled        OutboxEventType = "order_cancelled"
	EventOrderShipped          OutboxEventType = "order_shipped"
	EventOrderDelivered        OutboxEventType = "order_delivered"
	EventPaymentAuthorized     OutboxEventType = "payment_authorized"
	EventPaymentCaptured       OutboxEventType = "payment_captured"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentRetryScheduled OutboxEventType = "payment_retry_scheduled"
	EventPaymentRefunded       OutboxEventType = "payment_refunded"
	EventInventoryOversold     OutboxEventType = "inventory_oversold"
	EventReservationReleased   OutboxEventType = "reservation_released"
)

// eventAggregates fixes which aggregate each event type describes.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventOrderCreated:          AggregateOrder,
	EventOrderCancelled:        AggregateOrder,
	EventOrderShipped:          AggregateOrder,
	EventOrderDelivered:        AggregateOrder,
	EventPaymentAuthorized:     AggregatePayment,
	EventPaymentCaptured:       AggregatePayment,
	EventPaymentFailed:         AggregatePayment,
	EventPaymentRetryScheduled: AggregatePayment,
	EventPaymentRefunded:       AggregatePayment,
	EventInventoryOversold:     AggregateInventory,
	EventReservationReleased:   AggregateInventory,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type e belongs to, or "" for unknown events.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
