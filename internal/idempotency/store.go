package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// ScopePaymentVerify namespaces verification results keyed by gateway payment id.
const ScopePaymentVerify = "payment-verify"

type kvStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IdempotencyKey(scope, id string) string
}

// Record is a stored result for a previously processed key.
type Record struct {
	Key      string          `json:"key"`
	Result   json.RawMessage `json:"result"`
	StoredAt time.Time       `json:"stored_at"`
}

// Decode unmarshals the stored result into out.
func (r *Record) Decode(out any) error {
	if r == nil || len(r.Result) == 0 {
		return errors.New("empty idempotency record")
	}
	return json.Unmarshal(r.Result, out)
}

// Store keeps per-key results in Redis so replays return the first answer.
type Store struct {
	kv    kvStore
	scope string
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(kv kvStore, scope string, ttl time.Duration) (*Store, error) {
	if kv == nil {
		return nil, errors.New("redis store required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("idempotency scope required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{kv: kv, scope: scope, ttl: ttl, now: time.Now}, nil
}

// Check returns the stored record for key or nil when the key is unseen.
func (s *Store) Check(ctx context.Context, key string) (*Record, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("idempotency key required")
	}
	raw, err := s.kv.Get(ctx, s.kv.IdempotencyKey(s.scope, key))
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Save stores result under key. A zero ttl uses the store default.
func (s *Store) Save(ctx context.Context, key string, result any, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("idempotency key required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency result: %w", err)
	}
	rec := Record{Key: key, Result: payload, StoredAt: s.now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.kv.Set(ctx, s.kv.IdempotencyKey(s.scope, key), string(data), ttl); err != nil {
		return fmt.Errorf("write idempotency record: %w", err)
	}
	return nil
}
