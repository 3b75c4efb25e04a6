package orders

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	orderNumberSavepoint   = "order_number"
	orderNumberAttempts    = 5
	orderNumberSuffixLen   = 6
	orderNumberAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	cancelledPaymentReason = "order_cancelled"
)

// Service defines checkout and order lifecycle operations.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, orderNumber string) (*OrderDetail, error)
	CancelOrder(ctx context.Context, input TransitionInput) (*models.Order, error)
	ShipOrder(ctx context.Context, input TransitionInput) (*models.Order, error)
	DeliverOrder(ctx context.Context, input TransitionInput) (*models.Order, error)
}

type service struct {
	repo        Repository
	carts       cart.CartRepository
	tx          txRunner
	outbox      outboxPublisher
	inventory   Inventory
	pricing     PricingSnapshot
	gatewayName string
	now         func() time.Time
	numbers     func(time.Time) (string, error)
}

// NewService builds the order service. gatewayName is stamped on the initial
// payment row of every order.
func NewService(repo Repository, carts cart.CartRepository, tx txRunner, outbox outboxPublisher, inv Inventory, snapshot PricingSnapshot, gatewayName string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if strings.TrimSpace(gatewayName) == "" {
		return nil, fmt.Errorf("gateway name required")
	}
	return &service{
		repo:        repo,
		carts:       carts,
		tx:          tx,
		outbox:      outbox,
		inventory:   inv,
		pricing:     snapshot,
		gatewayName: gatewayName,
		now:         func() time.Time { return time.Now().UTC() },
		numbers:     newOrderNumber,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	customer, err := normalizeCustomer(input.Customer)
	if err != nil {
		return nil, err
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	if input.BillingAddress != nil {
		if err := input.BillingAddress.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing address")
		}
	}
	method, shippingMinor, err := s.pricing.Shipping(input.ShippingMethod)
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(input.CartToken)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}

	var result CreateOrderResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		carts := s.carts.WithTx(tx)
		now := s.now()

		record, err := carts.FindActiveByToken(ctx, token, now)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items")
		}

		items, subtotal, err := s.buildItems(ctx, tx, carts, record.Items)
		if err != nil {
			return err
		}

		tax := s.pricing.Tax(subtotal)
		cartID := record.ID
		order := &models.Order{
			CartID:            &cartID,
			CustomerEmail:     customer.Email,
			CustomerName:      customer.Name,
			Status:            enums.OrderStatusPending,
			PaymentStatus:     enums.OrderPaymentStatusPending,
			FulfillmentStatus: enums.FulfillmentStatusUnfulfilled,
			Currency:          record.Currency,
			SubtotalMinor:     subtotal,
			TaxMinor:          tax,
			ShippingMinor:     shippingMinor,
			TotalMinor:        subtotal + tax + shippingMinor,
			TaxRateBps:        s.pricing.TaxRateBps(),
			ShippingMethod:    method,
			ShippingAddress:   input.ShippingAddress,
			BillingAddress:    input.BillingAddress,
		}
		if customer.Phone != "" {
			phone := customer.Phone
			order.CustomerPhone = &phone
		}
		if err := s.insertOrder(ctx, tx, repo, order, now); err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := repo.CreateItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order items")
		}
		order.Items = items

		payment := &models.Payment{
			OrderID:        order.ID,
			AmountMinor:    order.TotalMinor,
			Currency:       order.Currency,
			Status:         enums.PaymentStatusPending,
			Gateway:        s.gatewayName,
			IdempotencyKey: PaymentIdempotencyKey(order.ID, 0),
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
		}

		if err := carts.MarkConverted(ctx, record.ID, order.ID, now); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "cart already checked out")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "convert cart")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				PaymentID:   payment.ID,
				TotalMinor:  order.TotalMinor,
				Currency:    order.Currency,
				ItemCount:   len(items),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order created")
		}

		result = CreateOrderResult{Order: order, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// buildItems snapshots cart lines into order lines and re-checks stock for
// tracked variants. The check is best effort; reservation happens on payment.
func (s *service) buildItems(ctx context.Context, tx *gorm.DB, carts cart.CartRepository, lines []models.CartItem) ([]models.OrderItem, int64, error) {
	items := make([]models.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		variant, err := carts.FindVariant(ctx, line.VariantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "cart item is no longer available").
					WithDetails(map[string]any{"variant_id": line.VariantID})
			}
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product variant")
		}
		if variant.TrackInventory {
			available, err := s.inventory.Available(ctx, tx, variant.ID, variant.LocationID)
			if err != nil {
				return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
			}
			if line.Quantity > available {
				return nil, 0, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "not enough stock to place order").
					WithDetails(map[string]any{
						"variant_id": variant.ID,
						"requested":  line.Quantity,
						"available":  available,
					})
			}
		}

		variantID := variant.ID
		locationID := variant.LocationID
		items = append(items, models.OrderItem{
			VariantID:           &variantID,
			LocationID:          &locationID,
			TrackInventory:      variant.TrackInventory,
			Title:               line.Title,
			Handle:              line.Handle,
			ImageURL:            line.ImageURL,
			SKU:                 line.SKU,
			Quantity:            line.Quantity,
			UnitPriceMinor:      line.UnitPriceMinor,
			CompareAtPriceMinor: line.CompareAtPriceMinor,
			SubtotalMinor:       line.UnitPriceMinor * int64(line.Quantity),
		})
		subtotal += line.UnitPriceMinor * int64(line.Quantity)
	}
	return items, subtotal, nil
}

// insertOrder assigns a fresh order number, retrying on collision. Each
// attempt runs under a savepoint so a duplicate key does not abort the
// surrounding transaction.
func (s *service) insertOrder(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, now time.Time) error {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := s.numbers(now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order.OrderNumber = number

		if err := tx.SavePoint(orderNumberSavepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create savepoint")
		}
		err = repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, "order_number") {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		if err := tx.RollbackTo(orderNumberSavepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rollback savepoint")
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
}

func (s *service) GetOrder(ctx context.Context, orderNumber string) (*OrderDetail, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, orderNotFoundOr(err)
	}
	payments, err := s.repo.ListPayments(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	return &OrderDetail{Order: order, Payments: payments}, nil
}

// CancelOrder cancels a pre-shipment order, returns any reserved stock and
// closes open payment attempts. Captured funds are refunded separately.
func (s *service) CancelOrder(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, enums.OrderStatusCancelled, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, now time.Time) (map[string]any, error) {
		released, err := s.releaseReserved(ctx, tx, repo, order)
		if err != nil {
			return nil, err
		}
		if _, err := repo.FailPendingPayments(ctx, order.ID, cancelledPaymentReason, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close pending payments")
		}
		if released > 0 {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationReleased,
				AggregateType: enums.AggregateInventory,
				AggregateID:   order.ID,
				OccurredAt:    now,
				Data: payloads.ReservationReleasedEvent{
					OrderID:  order.ID,
					Reason:   cancelledPaymentReason,
					Released: released,
				},
			}); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reservation released")
			}
		}
		return map[string]any{"cancelled_at": now}, nil
	})
}

// ShipOrder marks a processing order shipped and consumes its reservation.
func (s *service) ShipOrder(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, enums.OrderStatusShipped, func(ctx context.Context, tx *gorm.DB, _ Repository, order *models.Order, now time.Time) (map[string]any, error) {
		if err := s.inventory.Commit(ctx, tx, reservedRequests(order.Items)); err != nil {
			return nil, err
		}
		return map[string]any{
			"shipped_at":         now,
			"fulfillment_status": enums.FulfillmentStatusFulfilled,
		}, nil
	})
}

func (s *service) DeliverOrder(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, enums.OrderStatusDelivered, func(_ context.Context, _ *gorm.DB, _ Repository, _ *models.Order, now time.Time) (map[string]any, error) {
		return map[string]any{"delivered_at": now}, nil
	})
}

type transitionHook func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, now time.Time) (map[string]any, error)

var transitionEvents = map[enums.OrderStatus]enums.OutboxEventType{
	enums.OrderStatusCancelled: enums.EventOrderCancelled,
	enums.OrderStatusShipped:   enums.EventOrderShipped,
	enums.OrderStatusDelivered: enums.EventOrderDelivered,
}

func (s *service) transition(ctx context.Context, input TransitionInput, to enums.OrderStatus, hook transitionHook) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		order, err := repo.LockByID(ctx, input.OrderID)
		if err != nil {
			return orderNotFoundOr(err)
		}
		from := order.Status
		if err := EnsureOrderTransition(from, to); err != nil {
			return err
		}

		updates, err := hook(ctx, tx, repo, order, now)
		if err != nil {
			return err
		}
		updates["status"] = to
		updates["updated_at"] = now
		if err := repo.UpdateStatus(ctx, order.ID, from, updates); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}

		var actor *outbox.ActorRef
		if input.ActorUserID != "" {
			actor = &outbox.ActorRef{UserID: input.ActorUserID, Role: "admin"}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     transitionEvents[to],
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderStatusEvent{
				OrderID:    order.ID,
				From:       from,
				To:         to,
				OccurredAt: now,
				Reason:     strings.TrimSpace(input.Reason),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order status")
		}

		updated, err = repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReleaseReservations returns every unit reserved for the order and zeroes
// the per-line counters. It must run inside the caller's transaction.
func ReleaseReservations(ctx context.Context, tx *gorm.DB, repo Repository, inv Inventory, order *models.Order) (int, error) {
	requests := reservedRequests(order.Items)
	if len(requests) == 0 {
		return 0, nil
	}
	if err := inv.Release(ctx, tx, requests); err != nil {
		return 0, err
	}
	released := 0
	for i := range order.Items {
		item := &order.Items[i]
		if item.ReservedQty == 0 {
			continue
		}
		released += item.ReservedQty
		if err := repo.UpdateItemReserved(ctx, item.ID, 0); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reset reserved quantity")
		}
		item.ReservedQty = 0
	}
	return released, nil
}

func (s *service) releaseReserved(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (int, error) {
	return ReleaseReservations(ctx, tx, repo, s.inventory, order)
}

func reservedRequests(items []models.OrderItem) []inventory.ReleaseRequest {
	var out []inventory.ReleaseRequest
	for _, item := range items {
		if item.ReservedQty <= 0 || item.VariantID == nil || item.LocationID == nil {
			continue
		}
		out = append(out, inventory.ReleaseRequest{
			VariantID:  *item.VariantID,
			LocationID: *item.LocationID,
			Qty:        item.ReservedQty,
		})
	}
	return out
}

// PaymentIdempotencyKey is the gateway idempotency key for an order's nth
// payment attempt.
func PaymentIdempotencyKey(orderID uuid.UUID, retryCount int) string {
	return fmt.Sprintf("%s:%d", orderID, retryCount)
}

// customerRules applies the same tags the checkout request body declares.
var customerRules = validator.New(validator.WithRequiredStructEnabled())

func normalizeCustomer(c Customer) (Customer, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Email == "" {
		return c, pkgerrors.New(pkgerrors.CodeValidation, "customer email required")
	}
	if err := customerRules.Var(c.Email, "required,email"); err != nil {
		return c, pkgerrors.New(pkgerrors.CodeValidation, "customer email is invalid")
	}
	if c.Name == "" {
		return c, pkgerrors.New(pkgerrors.CodeValidation, "customer name required")
	}
	return c, nil
}

func orderNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
}

// newOrderNumber formats ORD-YYYYMMDD-XXXXXX with a random suffix.
func newOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, orderNumberSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	suffix := make([]byte, orderNumberSuffixLen)
	for i, b := range buf {
		suffix[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix), nil
}
