package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// IdempotencyRecord is a remembered CreateSession outcome.
type IdempotencyRecord struct {
	Fingerprint string        `json:"fingerprint"`
	Result      SessionResult `json:"result"`
}

// IdempotencyStore persists CreateSession outcomes for providers without a
// native idempotency key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Put(ctx context.Context, key string, rec IdempotencyRecord, ttl time.Duration) error
}

// WithIdempotency makes repeated CreateSession calls with the same
// IdempotencyKey return the first result. Adapters that honour the key
// natively are returned unchanged.
func WithIdempotency(a Adapter, store IdempotencyStore, ttl time.Duration) Adapter {
	if a == nil || store == nil || a.Capabilities().NativeIdempotency {
		return a
	}
	return &idempotentAdapter{Adapter: a, store: store, ttl: ttl}
}

type idempotentAdapter struct {
	Adapter
	store IdempotencyStore
	ttl   time.Duration
}

func fingerprint(in SessionInput) string {
	return strings.Join([]string{
		strconv.FormatInt(in.Amount, 10),
		strings.ToUpper(in.Currency),
		strings.ToLower(in.Customer.Email),
		strconv.FormatBool(in.Inline),
	}, "|")
}

func (a *idempotentAdapter) CreateSession(ctx context.Context, creds *Credentials, in SessionInput) (*SessionResult, error) {
	if in.IdempotencyKey == "" {
		return a.Adapter.CreateSession(ctx, creds, in)
	}
	key := string(a.Name()) + ":" + in.IdempotencyKey
	fp := fingerprint(in)

	rec, err := a.store.Get(ctx, key)
	switch {
	case err != nil:
		log.Warnf("[Gateway] idempotency lookup failed for %s: %v", a.Name(), err)
	case rec != nil && rec.Fingerprint == fp:
		res := rec.Result
		return &res, nil
	case rec != nil:
		log.Warnf("[Gateway] idempotency key reused with different input for %s, creating a new session", a.Name())
	}

	res, err := a.Adapter.CreateSession(ctx, creds, in)
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, key, IdempotencyRecord{Fingerprint: fp, Result: *res}, a.ttl); err != nil {
		log.Warnf("[Gateway] idempotency store failed for %s: %v", a.Name(), err)
	}
	return res, nil
}

const idempotencyKeyPrefix = "idem:"

// RedisIdempotencyStore keeps records as JSON strings with a TTL.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, rec IdempotencyRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	return s.client.Set(ctx, idempotencyKeyPrefix+key, raw, ttl).Err()
}
