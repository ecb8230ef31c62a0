package strategies

import (
	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// Sticky pins requests to the current account and only moves forward when
// it becomes unusable, preserving upstream prompt caches. When the pinned
// account is briefly rate-limited and nothing else is usable, it reports a
// wait instead of switching.
type Sticky struct {
	base
	maxWaitMs int64
}

// NewSticky creates the sticky strategy.
func NewSticky(t *Trackers) *Sticky {
	return &Sticky{base: newBase(t), maxWaitMs: config.MaxWaitBeforeErrorMs}
}

// Name implements Strategy.
func (s *Sticky) Name() string { return "sticky" }

// Select implements Strategy.
func (s *Sticky) Select(accounts []*redis.Account, model string, currentIndex int) *SelectionResult {
	n := len(accounts)
	if n == 0 {
		return &SelectionResult{Index: -1, Reason: "empty pool"}
	}

	// Clamp a stale index from a shrunken pool.
	idx := currentIndex
	if idx < 0 || idx >= n {
		idx = 0
	}

	if s.isUsable(accounts[idx], model) {
		s.t.Tokens.Consume(accounts[idx].Email)
		return &SelectionResult{Account: accounts[idx], Index: idx, Reason: "sticky"}
	}

	// Walk forward with wrap-around looking for any usable account.
	for i := 1; i < n; i++ {
		j := (idx + i) % n
		if s.isUsable(accounts[j], model) {
			s.t.Tokens.Consume(accounts[j].Email)
			return &SelectionResult{Account: accounts[j], Index: j, Reason: "switched"}
		}
	}

	// Nothing usable. If the pinned account is just rate-limited and will
	// recover soon enough, ask the caller to wait for it.
	waitMs := s.rateLimitWaitMs(accounts[idx], model)
	if waitMs <= 0 {
		waitMs = minPoolWaitMs(&s.base, accounts, model)
	}
	if waitMs > 0 && waitMs <= s.maxWaitMs {
		return &SelectionResult{Index: idx, WaitMs: waitMs, Reason: "waiting for pinned account"}
	}
	return &SelectionResult{Index: idx, Reason: "no usable account"}
}

// minPoolWaitMs returns the smallest positive rate-limit wait across
// enabled, valid accounts; 0 when none applies.
func minPoolWaitMs(b *base, accounts []*redis.Account, model string) int64 {
	var minWait int64
	for _, acc := range accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		w := b.rateLimitWaitMs(acc, model)
		if w > 0 && (minWait == 0 || w < minWait) {
			minWait = w
		}
	}
	return minWait
}
