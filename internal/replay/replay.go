// Package replay guards against reuse of payment authorization nonces while
// a transfer is in flight. The chain rejects a replayed nonce eventually, but
// the proxy should not forward a request on the strength of an authorization
// it has already accepted once.
package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	x402proxy "github.com/mark3labs/x402-proxy"
)

// retention keeps nonce marks far longer than any authorization validity
// window, so a mark always outlives the signature it guards.
const retention = 24 * time.Hour

// NonceStore records authorization nonces as used.
type NonceStore interface {
	// MarkUsed marks (network, from, nonce) as consumed. Returns
	// x402proxy.ErrNonceUsed when the nonce was already marked.
	MarkUsed(ctx context.Context, network, from, nonce string) error
}

func nonceKey(network, from, nonce string) string {
	return fmt.Sprintf("x402:nonce:%s:%s:%s", network, strings.ToLower(from), strings.ToLower(nonce))
}

// RedisStore implements NonceStore on redis, shared across proxy replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a NonceStore over an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// MarkUsed performs an atomic set-if-absent with expiry.
func (s *RedisStore) MarkUsed(ctx context.Context, network, from, nonce string) error {
	ok, err := s.client.SetNX(ctx, nonceKey(network, from, nonce), 1, retention).Result()
	if err != nil {
		return fmt.Errorf("nonce store unavailable: %w", err)
	}
	if !ok {
		return x402proxy.ErrNonceUsed
	}
	return nil
}

// MemoryStore implements NonceStore in-process, for dev mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore creates an empty in-process nonce store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

// MarkUsed records the nonce, pruning expired marks as it goes.
func (s *MemoryStore) MarkUsed(ctx context.Context, network, from, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}

	key := nonceKey(network, from, nonce)
	if _, used := s.seen[key]; used {
		return x402proxy.ErrNonceUsed
	}
	s.seen[key] = now.Add(retention)
	return nil
}
