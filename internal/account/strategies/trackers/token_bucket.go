package trackers

import (
	"sync"

	"github.com/poemonsense/cloudcode-relay/internal/config"
)

// TokenBucketTracker is a per-account credit counter. A credit is consumed
// when a request is dispatched on the account and refunded when that request
// fails before completing. There is no clock-based refill; refunds are the
// only replenishment, so the bucket acts as a cap on unacknowledged spend.
type TokenBucketTracker struct {
	mu      sync.RWMutex
	tokens  map[string]float64
	maxSize float64
}

// NewTokenBucketTracker creates a tracker with the default bucket size.
func NewTokenBucketTracker() *TokenBucketTracker {
	return &TokenBucketTracker{
		tokens:  make(map[string]float64),
		maxSize: config.TokenBucketMax,
	}
}

func (t *TokenBucketTracker) get(email string) float64 {
	if v, ok := t.tokens[email]; ok {
		return v
	}
	t.tokens[email] = config.TokenBucketInitial
	return config.TokenBucketInitial
}

// GetTokens returns the current credit balance.
func (t *TokenBucketTracker) GetTokens(email string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(email)
}

// MaxTokens returns the bucket capacity.
func (t *TokenBucketTracker) MaxTokens() float64 { return t.maxSize }

// HasTokens reports whether at least one credit is available.
func (t *TokenBucketTracker) HasTokens(email string) bool {
	return t.GetTokens(email) >= 1
}

// Consume takes one credit; returns false when the bucket is empty.
func (t *TokenBucketTracker) Consume(email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.get(email)
	if cur < 1 {
		return false
	}
	t.tokens[email] = cur - 1
	return true
}

// Refund returns one credit, capped at the bucket size.
func (t *TokenBucketTracker) Refund(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.get(email)
	t.tokens[email] = min(cur+1, t.maxSize)
}

// Forget drops all state for an account.
func (t *TokenBucketTracker) Forget(email string) {
	t.mu.Lock()
	delete(t.tokens, email)
	t.mu.Unlock()
}
