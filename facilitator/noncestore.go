package facilitator

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/x402pay/x402-go"
)

// NonceStore tracks consumed authorization nonces so a payment header cannot
// be settled twice. Entries carry a TTL: once the authorization's validity
// window has passed, the on-chain validity check makes the entry redundant.
type NonceStore interface {
	// IsUsed reports whether the nonce has been recorded as consumed.
	IsUsed(ctx context.Context, nonce string) (bool, error)

	// MarkUsed records the nonce as consumed for at least ttl.
	MarkUsed(ctx context.Context, nonce string, ttl time.Duration) error
}

// MemoryNonceStore is an in-process NonceStore for single-instance
// facilitators. Expired entries are purged lazily on writes.
type MemoryNonceStore struct {
	mu     sync.RWMutex
	nonces map[string]time.Time
}

// NewMemoryNonceStore creates an empty in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]time.Time)}
}

// IsUsed reports whether the nonce is recorded and not yet expired.
func (s *MemoryNonceStore) IsUsed(ctx context.Context, nonce string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

// MarkUsed records the nonce and opportunistically drops expired entries.
func (s *MemoryNonceStore) MarkUsed(ctx context.Context, nonce string, ttl time.Duration) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, expiry := range s.nonces {
		if now.After(expiry) {
			delete(s.nonces, n)
		}
	}
	s.nonces[nonce] = now.Add(ttl)
	return nil
}

// RedisNonceStore is a NonceStore backed by Redis, for facilitators running
// more than one instance behind a load balancer.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

// NewRedisNonceStore creates a nonce store on the given Redis client. Keys
// are namespaced under "x402:nonce:".
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "x402:nonce:"}
}

// IsUsed checks the nonce key in Redis.
func (s *RedisNonceStore) IsUsed(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+nonce).Result()
	if err != nil {
		return false, x402.NewPaymentError(x402.ErrCodeNetworkError, "nonce store read failed", err)
	}
	return n > 0, nil
}

// MarkUsed sets the nonce key with the given TTL.
func (s *RedisNonceStore) MarkUsed(ctx context.Context, nonce string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, s.prefix+nonce, "1", ttl).Err(); err != nil {
		return x402.NewPaymentError(x402.ErrCodeNetworkError, "nonce store write failed", err)
	}
	return nil
}
