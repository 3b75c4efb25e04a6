package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryKV struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryKV) IdempotencyKey(scope, id string) string {
	return "sf:idempotency:" + scope + ":" + id
}

type verifyResult struct {
	Outcome string `json:"outcome"`
	OrderID string `json:"order_id"`
}

func TestCheckUnknownKeyReturnsNil(t *testing.T) {
	store, err := NewStore(newMemoryKV(), ScopePaymentVerify, time.Hour)
	require.NoError(t, err)

	rec, err := store.Check(context.Background(), "pay_1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestSaveThenCheckReturnsStoredResult(t *testing.T) {
	kv := newMemoryKV()
	store, err := NewStore(kv, ScopePaymentVerify, time.Hour)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "pay_1", verifyResult{Outcome: "captured", OrderID: "o1"}, 0))
	require.Equal(t, time.Hour, kv.ttls["sf:idempotency:payment-verify:pay_1"])

	rec, err := store.Check(ctx, "pay_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "pay_1", rec.Key)
	require.Equal(t, 2026, rec.StoredAt.Year())

	var got verifyResult
	require.NoError(t, rec.Decode(&got))
	require.Equal(t, verifyResult{Outcome: "captured", OrderID: "o1"}, got)
}

func TestCheckSurfacesBackendErrors(t *testing.T) {
	kv := newMemoryKV()
	kv.err = errors.New("connection reset")
	store, err := NewStore(kv, ScopePaymentVerify, time.Hour)
	require.NoError(t, err)

	_, err = store.Check(context.Background(), "pay_1")
	require.Error(t, err)
	require.Error(t, store.Save(context.Background(), "pay_1", verifyResult{}, time.Minute))
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	store, err := NewStore(newMemoryKV(), ScopePaymentVerify, 0)
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, store.ttl)

	_, err = store.Check(context.Background(), " ")
	require.Error(t, err)
	require.Error(t, store.Save(context.Background(), "", verifyResult{}, 0))

	_, err = NewStore(nil, ScopePaymentVerify, 0)
	require.Error(t, err)
}
