package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Memory is an in-process gateway used for local development without
// provider credentials and as the test double for the pipeline.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]RemoteOrder
	payments map[string]RemotePayment

	// CreateErr and FetchErr, when set, are returned by the next calls.
	CreateErr error
	FetchErr  error

	createCalls int
	fetchCalls  int
}

var _ Gateway = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		orders:   map[string]RemoteOrder{},
		payments: map[string]RemotePayment{},
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) CreateRemoteOrder(ctx context.Context, req RemoteOrderRequest) (*RemoteOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order := RemoteOrder{
		ID:       fmt.Sprintf("gw_order_%s", uuid.NewString()[:12]),
		Amount:   req.Amount,
		Currency: req.Currency,
	}
	m.orders[order.ID] = order
	return &order, nil
}

func (m *Memory) FetchPayment(ctx context.Context, gatewayPaymentID string) (*RemotePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payment, ok := m.payments[gatewayPaymentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "gateway payment not found")
	}
	return &payment, nil
}

// PutPayment registers or replaces a payment the gateway will report.
func (m *Memory) PutPayment(p RemotePayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

// Order returns a previously created remote order.
func (m *Memory) Order(id string) (RemoteOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

func (m *Memory) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *Memory) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}
