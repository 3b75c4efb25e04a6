package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// OrderCreateParams describes the Square order mirroring a storefront order.
// Tax and shipping are already priced, so the total goes out as one line.
type OrderCreateParams struct {
	ReferenceID    string
	AmountMinor    int64
	Currency       string
	LineName       string
	Metadata       map[string]string
	IdempotencyKey string
}

func (p OrderCreateParams) toSquareRequest(locationID, idempotencyKey string) *sq.CreateOrderRequest {
	ref := strings.TrimSpace(p.ReferenceID)
	name := strings.TrimSpace(p.LineName)
	if name == "" {
		name = "Order " + ref
	}
	amount := p.AmountMinor
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(p.Currency)))

	order := &sq.Order{
		LocationID: locationID,
		LineItems: []*sq.OrderLineItem{{
			Name:           &name,
			Quantity:       "1",
			BasePriceMoney: &sq.Money{Amount: &amount, Currency: &currency},
		}},
		Metadata: metadataRefs(p.Metadata),
	}
	if ref != "" {
		order.ReferenceID = &ref
	}
	return &sq.CreateOrderRequest{Order: order, IdempotencyKey: &idempotencyKey}
}

// metadataRefs copies m into the SDK's pointer-valued form. Empty maps are
// omitted from the request.
func metadataRefs(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = &v
	}
	return out
}
