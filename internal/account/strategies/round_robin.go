package strategies

import (
	"sync"

	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// RoundRobin rotates through the pool, probing the slot after the previous
// pick first so load spreads evenly across accounts.
type RoundRobin struct {
	base
	mu     sync.Mutex
	cursor int
}

// NewRoundRobin creates the round-robin strategy.
func NewRoundRobin(t *Trackers) *RoundRobin {
	return &RoundRobin{base: newBase(t), cursor: -1}
}

// Name implements Strategy.
func (r *RoundRobin) Name() string { return "round-robin" }

// Select implements Strategy.
func (r *RoundRobin) Select(accounts []*redis.Account, model string, currentIndex int) *SelectionResult {
	n := len(accounts)
	if n == 0 {
		return &SelectionResult{Index: -1, Reason: "empty pool"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := (r.cursor + 1) % n
	if start < 0 {
		start = 0
	}

	for i := 0; i < n; i++ {
		j := (start + i) % n
		if r.isUsable(accounts[j], model) {
			r.cursor = j
			r.t.Tokens.Consume(accounts[j].Email)
			return &SelectionResult{Account: accounts[j], Index: j, Reason: "round-robin"}
		}
	}

	if waitMs := minPoolWaitMs(&r.base, accounts, model); waitMs > 0 {
		return &SelectionResult{Index: r.cursor, WaitMs: waitMs, Reason: "all rate limited"}
	}
	return &SelectionResult{Index: r.cursor, Reason: "no usable account"}
}
