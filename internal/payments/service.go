package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/audit"
	"github.com/angelmondragon/storefront-backend/internal/fraud"
	"github.com/angelmondragon/storefront-backend/internal/gateway"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	reasonFraudDetected    = "fraud_detected"
	reasonGatewayFailed    = "gateway_failed"
	reasonRetriesExhausted = "retries_exhausted"
)

// Service runs the payment side of the order pipeline.
type Service interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID) (*IntentResult, error)
	VerifyCallback(ctx context.Context, input VerifyInput) (*VerifyResult, error)
	RecordRefund(ctx context.Context, input RefundInput) (*models.Payment, error)
	RetryFailed(ctx context.Context) (*RunSummary, error)
	SyncPending(ctx context.Context) (*RunSummary, error)
	ArchiveFailed(ctx context.Context) (*RunSummary, error)
}

type ServiceParams struct {
	Repo        Repository
	Orders      orders.Repository
	Tx          txRunner
	Gateway     gateway.Gateway
	Verifier    signatureVerifier
	Idempotency idempotencyStore
	Scorer      fraud.Scorer
	History     historyLoader
	Inventory   reserver
	Outbox      outboxPublisher
	Audit       audit.Emitter
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
	Config      config.PaymentsConfig
	// KeyID is the public gateway identifier handed to checkout clients.
	KeyID string
}

type service struct {
	repo        Repository
	orders      orders.Repository
	tx          txRunner
	gateway     gateway.Gateway
	verifier    signatureVerifier
	idempotency idempotencyStore
	scorer      fraud.Scorer
	history     historyLoader
	inventory   reserver
	outbox      outboxPublisher
	audit       audit.Emitter
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
	cfg         config.PaymentsConfig
	keyID       string
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Verifier == nil:
		return nil, fmt.Errorf("signature verifier required")
	case params.Scorer == nil:
		return nil, fmt.Errorf("fraud scorer required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = 30 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &service{
		repo:        params.Repo,
		orders:      params.Orders,
		tx:          params.Tx,
		gateway:     params.Gateway,
		verifier:    params.Verifier,
		idempotency: params.Idempotency,
		scorer:      params.Scorer,
		history:     params.History,
		inventory:   params.Inventory,
		outbox:      params.Outbox,
		audit:       params.Audit,
		metrics:     params.Metrics,
		logg:        params.Logger,
		cfg:         cfg,
		keyID:       params.KeyID,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateIntent opens (or reuses) the gateway order for the order's current
// pending payment.
func (s *service) CreateIntent(ctx context.Context, orderID uuid.UUID) (*IntentResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "order")
	}
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if _, err := s.repo.FindSuccessful(ctx, order.ID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing payments")
	}

	payment, err := s.orders.LatestPayment(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no open payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no open payment")
	}

	result := &IntentResult{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		Gateway:     s.gateway.Name(),
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		KeyID:       s.keyID,
	}
	if payment.GatewayOrderID != nil {
		result.GatewayOrderID = *payment.GatewayOrderID
		result.Reused = true
		return result, nil
	}

	remote, err := s.gateway.CreateRemoteOrder(ctx, gateway.RemoteOrderRequest{
		Amount:         payment.AmountMinor,
		Currency:       payment.Currency,
		Receipt:        order.OrderNumber,
		IdempotencyKey: payment.IdempotencyKey,
		Notes: map[string]string{
			"order_id":   order.ID.String(),
			"payment_id": payment.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	if remote.Amount != payment.AmountMinor || remote.Currency != payment.Currency {
		return nil, s.integrityFailure(ctx, order.ID, payment.ID, "gateway order does not match payment amount", map[string]any{
			"gateway_order_id": remote.ID,
			"gateway_amount":   remote.Amount,
			"expected_amount":  payment.AmountMinor,
		})
	}

	attached, err := s.repo.AttachGatewayOrder(ctx, payment.ID, remote.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store gateway order")
	}
	result.GatewayOrderID = remote.ID
	if !attached {
		current, err := s.repo.FindByID(ctx, payment.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}
		if current.GatewayOrderID != nil {
			result.GatewayOrderID = *current.GatewayOrderID
			result.Reused = true
		}
	}
	return result, nil
}

// VerifyCallback settles a payment from a signed client callback. Only the
// identifiers come from the caller; status and amount are fetched from the
// gateway.
func (s *service) VerifyCallback(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	input.GatewayOrderID = strings.TrimSpace(input.GatewayOrderID)
	input.GatewayPaymentID = strings.TrimSpace(input.GatewayPaymentID)
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	ctx = s.logg.WithPaymentID(ctx, input.PaymentID.String())

	if err := s.verifier.Verify(input.GatewayOrderID, input.GatewayPaymentID, input.Signature); err != nil {
		s.metrics.IncVerifyOutcome("invalid_signature")
		paymentID := input.PaymentID
		s.emitAudit(ctx, audit.Event{
			Type:      enums.SecurityEventSignatureInvalid,
			Severity:  enums.SeverityWarning,
			PaymentID: &paymentID,
			Message:   "payment callback signature rejected",
			Metadata: map[string]any{
				"gateway_order_id":   input.GatewayOrderID,
				"gateway_payment_id": input.GatewayPaymentID,
				"client_ip":          input.ClientIP,
			},
		})
		return nil, err
	}

	key := input.GatewayPaymentID
	if cached := s.replay(ctx, key); cached != nil {
		s.metrics.IncVerifyOutcome("replay")
		return cached, outcomeError(cached.Outcome)
	}

	payment, err := s.repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		return nil, notFoundOr(err, "payment")
	}
	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "order")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if payment.GatewayOrderID == nil || *payment.GatewayOrderID != input.GatewayOrderID {
		return nil, s.integrityFailure(ctx, order.ID, payment.ID, "callback gateway order does not match payment", map[string]any{
			"gateway_order_id": input.GatewayOrderID,
		})
	}

	if done, err := s.alreadyProcessed(ctx, order, payment); err != nil || done != nil {
		if done != nil {
			s.metrics.IncVerifyOutcome(string(done.Outcome))
			s.remember(ctx, key, done)
		}
		return done, err
	}

	remote, err := s.gateway.FetchPayment(ctx, input.GatewayPaymentID)
	if err != nil {
		s.metrics.IncVerifyOutcome("gateway_error")
		return nil, err
	}

	result, err := s.settle(ctx, order, payment, remote, input.ClientIP)
	if result != nil && result.Outcome.terminal() {
		s.remember(ctx, key, result)
	}
	return result, err
}

// alreadyProcessed short-circuits callbacks for orders that already hold
// funds. Payments that left pending some other way are a conflict.
func (s *service) alreadyProcessed(ctx context.Context, order *models.Order, payment *models.Payment) (*VerifyResult, error) {
	existing := payment
	if !payment.IsSuccessful() {
		found, err := s.repo.FindSuccessful(ctx, order.ID)
		switch {
		case err == nil:
			existing = found
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = nil
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing payments")
		}
	}
	if existing != nil {
		return &VerifyResult{
			Outcome:       OutcomeAlreadyProcessed,
			Success:       true,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			PaymentID:     existing.ID,
			PaymentStatus: existing.Status,
			OrderStatus:   order.Status,
		}, nil
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer open").
			WithDetails(map[string]any{"status": payment.Status})
	}
	return nil, nil
}

// settle checks the gateway view against the payment, scores fraud and runs
// the state transition. Post-commit side effects happen here too.
func (s *service) settle(ctx context.Context, order *models.Order, payment *models.Payment, remote *gateway.RemotePayment, clientIP string) (*VerifyResult, error) {
	expectedOrder := ""
	if payment.GatewayOrderID != nil {
		expectedOrder = *payment.GatewayOrderID
	}
	if remote.OrderID != expectedOrder || remote.Amount != payment.AmountMinor || remote.Currency != payment.Currency {
		return nil, s.integrityFailure(ctx, order.ID, payment.ID, "gateway payment does not match order", map[string]any{
			"gateway_payment_id": remote.ID,
			"gateway_order_id":   remote.OrderID,
			"gateway_amount":     remote.Amount,
			"gateway_currency":   remote.Currency,
			"expected_amount":    payment.AmountMinor,
			"expected_currency":  payment.Currency,
		})
	}

	target := remote.Status.PaymentStatus()
	if target == enums.PaymentStatusPending {
		if err := s.repo.AttachGatewayPayment(ctx, payment.ID, remote.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store gateway payment id")
		}
		s.metrics.IncVerifyOutcome(string(OutcomePending))
		return &VerifyResult{
			Outcome:       OutcomePending,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			PaymentID:     payment.ID,
			PaymentStatus: payment.Status,
			OrderStatus:   order.Status,
		}, nil
	}

	var assessment *fraud.Assessment
	if payment.Status == enums.PaymentStatusPending && target != enums.PaymentStatusFailed {
		a := s.assess(ctx, order, payment, remote, clientIP)
		assessment = &a
	}
	blocked := assessment != nil && assessment.ShouldBlock()

	st, err := s.apply(ctx, payment.ID, remote, assessment, blocked)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			if done, lookupErr := s.alreadyProcessed(ctx, order, payment); lookupErr == nil && done != nil {
				s.metrics.IncVerifyOutcome(string(done.Outcome))
				return done, nil
			}
		}
		s.metrics.IncVerifyOutcome("error")
		return nil, err
	}
	s.afterSettle(ctx, st, assessment, blocked)

	if blocked {
		st.result.Outcome = OutcomeFraudBlocked
		st.result.Success = false
	}
	s.metrics.IncVerifyOutcome(string(st.result.Outcome))
	return st.result, outcomeError(st.result.Outcome)
}

type settlement struct {
	result     *VerifyResult
	from       enums.PaymentStatus
	shortfalls []payloads.InventoryShortfall
	released   int
	// stuck is set when payment state moved but the order could not follow.
	stuck enums.OrderStatus
}

// apply is the transactional state transition: lock, compare-and-swap the
// payment, move the order, reserve or release stock and emit outbox events.
func (s *service) apply(ctx context.Context, paymentID uuid.UUID, remote *gateway.RemotePayment, assessment *fraud.Assessment, blocked bool) (*settlement, error) {
	st := &settlement{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orderRepo := s.orders.WithTx(tx)
		now := s.now()

		order, payment, err := lockOrderThenPayment(ctx, repo, orderRepo, paymentID)
		if err != nil {
			return err
		}
		st.from = payment.Status

		target := remote.Status.PaymentStatus()
		if blocked {
			target = enums.PaymentStatusFailed
		}
		if payment.Status == target {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already in requested state")
		}
		if other, err := repo.FindSuccessful(ctx, order.ID); err == nil && other.ID != payment.ID {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a successful payment")
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing payments")
		}
		if err := orders.EnsurePaymentTransition(payment.Status, target); err != nil {
			return err
		}

		updates := map[string]any{
			"status":             target,
			"gateway_payment_id": remote.ID,
			"updated_at":         now,
		}
		if remote.Method != "" {
			updates["method"] = remote.Method
		}
		if assessment != nil {
			updates["risk_score"] = assessment.Score
			updates["risk_level"] = assessment.Level
		}
		failureReason := ""
		switch target {
		case enums.PaymentStatusCaptured:
			updates["captured_at"] = now
		case enums.PaymentStatusAuthorized:
			updates["authorized_at"] = now
		case enums.PaymentStatusFailed:
			failureReason = remote.FailureReason
			if blocked {
				failureReason = reasonFraudDetected
			}
			if failureReason == "" {
				failureReason = reasonGatewayFailed
			}
			updates["failed_at"] = now
			updates["failure_reason"] = failureReason
		}
		if err := repo.TransitionFrom(ctx, payment.ID, payment.Status, updates); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment")
		}

		outcome, _ := orders.OutcomeFor(target)
		orderUpdates := map[string]any{
			"payment_status": outcome.OrderPaymentStatus,
			"updated_at":     now,
		}
		orderStatus := order.Status
		if !blocked && order.Status != outcome.OrderStatus {
			if orders.CanTransitionOrder(order.Status, outcome.OrderStatus) {
				orderUpdates["status"] = outcome.OrderStatus
				orderStatus = outcome.OrderStatus
			} else {
				st.stuck = order.Status
			}
		}
		if err := orderRepo.UpdateStatus(ctx, order.ID, order.Status, orderUpdates); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order")
		}

		switch {
		case outcome.ReservesInventory && st.stuck == "" && payment.Status == enums.PaymentStatusPending:
			st.shortfalls, err = s.reserve(ctx, tx, orderRepo, order.Items)
			if err != nil {
				return err
			}
		case target == enums.PaymentStatusFailed && payment.Status == enums.PaymentStatusAuthorized:
			st.released, err = orders.ReleaseReservations(ctx, tx, orderRepo, s.inventory, order)
			if err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     paymentEvent(target),
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			OccurredAt:    now,
			Data: payloads.PaymentStatusEvent{
				OrderID:          order.ID,
				PaymentID:        payment.ID,
				Status:           target,
				AmountMinor:      payment.AmountMinor,
				Currency:         payment.Currency,
				GatewayPaymentID: remote.ID,
				FailureReason:    failureReason,
				RetryCount:       payment.RetryCount,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment event")
		}
		if len(st.shortfalls) > 0 {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInventoryOversold,
				AggregateType: enums.AggregateInventory,
				AggregateID:   order.ID,
				OccurredAt:    now,
				Data: payloads.InventoryOversoldEvent{
					OrderID:    order.ID,
					PaymentID:  payment.ID,
					Shortfalls: st.shortfalls,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit oversold event")
			}
		}

		st.result = &VerifyResult{
			Outcome:       Outcome(target),
			Success:       target != enums.PaymentStatusFailed,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			PaymentID:     payment.ID,
			PaymentStatus: target,
			OrderStatus:   orderStatus,
			Oversold:      len(st.shortfalls) > 0,
		}
		st.result.applyAssessment(assessment)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// reserve asks inventory for every tracked line not yet reserved and records
// what was granted per line.
func (s *service) reserve(ctx context.Context, tx *gorm.DB, orderRepo orders.Repository, items []models.OrderItem) ([]payloads.InventoryShortfall, error) {
	lines := make(map[uuid.UUID]models.OrderItem, len(items))
	var requests []inventory.ReservationRequest
	for _, item := range items {
		if !item.TrackInventory || item.VariantID == nil || item.LocationID == nil {
			continue
		}
		qty := item.Quantity - item.ReservedQty
		if qty <= 0 {
			continue
		}
		lines[item.ID] = item
		requests = append(requests, inventory.ReservationRequest{
			LineID:     item.ID,
			VariantID:  *item.VariantID,
			LocationID: *item.LocationID,
			Qty:        qty,
		})
	}
	if len(requests) == 0 {
		return nil, nil
	}

	results, err := s.inventory.Reserve(ctx, tx, requests)
	if err != nil {
		return nil, err
	}
	var shortfalls []payloads.InventoryShortfall
	for _, res := range results {
		line := lines[res.LineID]
		if res.Reserved > 0 {
			if err := orderRepo.UpdateItemReserved(ctx, line.ID, line.ReservedQty+res.Reserved); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record reserved quantity")
			}
		}
		if res.Shortfall > 0 {
			shortfalls = append(shortfalls, payloads.InventoryShortfall{
				VariantID:  res.VariantID,
				LocationID: *line.LocationID,
				Requested:  res.Requested,
				Reserved:   res.Reserved,
			})
		}
	}
	return shortfalls, nil
}

// afterSettle writes the security log once the transition has committed.
func (s *service) afterSettle(ctx context.Context, st *settlement, assessment *fraud.Assessment, blocked bool) {
	res := st.result
	orderID, paymentID := res.OrderID, res.PaymentID

	switch {
	case blocked:
		s.emitAudit(ctx, audit.Event{
			Type:      enums.SecurityEventFraudBlocked,
			Severity:  enums.SeverityCritical,
			OrderID:   &orderID,
			PaymentID: &paymentID,
			Message:   "payment blocked by fraud screening",
			Metadata:  assessmentMeta(assessment),
		})
	case assessment != nil && assessment.ShouldFlag():
		s.logg.Warn(s.logg.WithField(ctx, "risk_score", assessment.Score), "payment flagged for fraud review")
		s.emitAudit(ctx, audit.Event{
			Type:      enums.SecurityEventFraudFlagged,
			Severity:  enums.SeverityWarning,
			OrderID:   &orderID,
			PaymentID: &paymentID,
			Message:   "payment allowed with elevated fraud risk",
			Metadata:  assessmentMeta(assessment),
		})
	}

	severity := enums.SeverityInfo
	meta := map[string]any{"from": st.from, "to": res.PaymentStatus, "order_status": res.OrderStatus}
	if st.stuck != "" {
		severity = enums.SeverityWarning
		meta["order_status_blocked"] = st.stuck
	}
	if st.released > 0 {
		meta["released_units"] = st.released
	}
	s.emitAudit(ctx, audit.Event{
		Type:      enums.SecurityEventPaymentTransition,
		Severity:  severity,
		OrderID:   &orderID,
		PaymentID: &paymentID,
		Message:   fmt.Sprintf("payment %s -> %s", st.from, res.PaymentStatus),
		Metadata:  meta,
	})

	if len(st.shortfalls) > 0 {
		s.metrics.AddOversold(len(st.shortfalls))
		s.logg.Warn(s.logg.WithField(ctx, "oversold_lines", len(st.shortfalls)), "paid order reserved short of ordered quantity")
		s.emitAudit(ctx, audit.Event{
			Type:      enums.SecurityEventInventoryOversold,
			Severity:  enums.SeverityWarning,
			OrderID:   &orderID,
			PaymentID: &paymentID,
			Message:   "inventory oversold; manual reconciliation required",
			Metadata:  map[string]any{"shortfalls": st.shortfalls},
		})
	}
}

func (s *service) assess(ctx context.Context, order *models.Order, payment *models.Payment, remote *gateway.RemotePayment, clientIP string) fraud.Assessment {
	attempt := fraud.Attempt{
		OrderID:         order.ID,
		PaymentID:       payment.ID,
		Email:           order.CustomerEmail,
		GatewayEmail:    remote.Email,
		IP:              clientIP,
		AmountMinor:     remote.Amount,
		Currency:        remote.Currency,
		ShippingCountry: order.ShippingAddress.CountryCode(),
		Card:            remote.Card,
	}
	var history fraud.History
	if s.history != nil {
		loaded, err := s.history.Load(ctx, attempt)
		if err != nil {
			s.logg.Error(ctx, "failed to load fraud history", err)
		} else {
			history = loaded
		}
	}
	assessment := s.scorer.Assess(attempt, history)
	s.metrics.IncFraudDecision(string(assessment.Recommendation), string(assessment.Level))
	return assessment
}

func (s *service) integrityFailure(ctx context.Context, orderID, paymentID uuid.UUID, msg string, meta map[string]any) error {
	s.metrics.IncVerifyOutcome("integrity_mismatch")
	s.emitAudit(ctx, audit.Event{
		Type:      enums.SecurityEventIntegrityMismatch,
		Severity:  enums.SeverityCritical,
		OrderID:   &orderID,
		PaymentID: &paymentID,
		Message:   msg,
		Metadata:  meta,
	})
	return pkgerrors.New(pkgerrors.CodeIntegrityMismatch, msg)
}

func (s *service) replay(ctx context.Context, key string) *VerifyResult {
	if s.idempotency == nil || key == "" {
		return nil
	}
	record, err := s.idempotency.Check(ctx, key)
	if err != nil {
		s.logg.Error(ctx, "idempotency lookup failed", err)
		return nil
	}
	if record == nil {
		return nil
	}
	var result VerifyResult
	if err := record.Decode(&result); err != nil {
		s.logg.Error(ctx, "idempotency record unreadable", err)
		return nil
	}
	result.Replayed = true
	return &result
}

func (s *service) remember(ctx context.Context, key string, result *VerifyResult) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Save(ctx, key, result, s.cfg.IdempotencyTTL); err != nil {
		s.logg.Error(ctx, "idempotency save failed", err)
	}
}

func (s *service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}

func outcomeError(outcome Outcome) error {
	if outcome == OutcomeFraudBlocked {
		return pkgerrors.New(pkgerrors.CodeFraudBlocked, "payment blocked by fraud screening")
	}
	return nil
}

func paymentEvent(status enums.PaymentStatus) enums.OutboxEventType {
	switch status {
	case enums.PaymentStatusCaptured:
		return enums.EventPaymentCaptured
	case enums.PaymentStatusAuthorized:
		return enums.EventPaymentAuthorized
	case enums.PaymentStatusRefunded:
		return enums.EventPaymentRefunded
	default:
		return enums.EventPaymentFailed
	}
}

func assessmentMeta(a *fraud.Assessment) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"score":          a.Score,
		"level":          a.Level,
		"recommendation": a.Recommendation,
		"factors":        a.Factors,
	}
}

// lockOrderThenPayment takes row locks in the same order every writer uses:
// order first, then payment.
func lockOrderThenPayment(ctx context.Context, repo Repository, orderRepo orders.Repository, paymentID uuid.UUID) (*models.Order, *models.Payment, error) {
	unlocked, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, notFoundOr(err, "payment")
	}
	order, err := orderRepo.LockByID(ctx, unlocked.OrderID)
	if err != nil {
		return nil, nil, notFoundOr(err, "order")
	}
	payment, err := repo.LockByID(ctx, paymentID)
	if err != nil {
		return nil, nil, notFoundOr(err, "payment")
	}
	return order, payment, nil
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load "+what)
}
