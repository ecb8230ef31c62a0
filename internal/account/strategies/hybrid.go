package strategies

import (
	"github.com/samber/lo"

	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// Hybrid scores every usable account on health, spend credits, quota and
// recency, and picks the best. Quota-critical accounts are excluded unless
// nothing else remains.
type Hybrid struct {
	base
}

// NewHybrid creates the hybrid strategy.
func NewHybrid(t *Trackers) *Hybrid {
	return &Hybrid{base: newBase(t)}
}

// Name implements Strategy.
func (h *Hybrid) Name() string { return "hybrid" }

type scored struct {
	acc   *redis.Account
	index int
	score float64
}

// Select implements Strategy.
func (h *Hybrid) Select(accounts []*redis.Account, model string, currentIndex int) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Index: -1, Reason: "empty pool"}
	}

	usable := h.candidates(accounts, model, true)
	reason := "hybrid"
	if len(usable) == 0 {
		// Every non-critical account is gone; better a throttled account
		// than none.
		usable = h.candidates(accounts, model, false)
		reason = "hybrid (quota fallback)"
	}
	if len(usable) == 0 {
		if waitMs := minPoolWaitMs(&h.base, accounts, model); waitMs > 0 {
			return &SelectionResult{Index: currentIndex, WaitMs: waitMs, Reason: "all rate limited"}
		}
		return &SelectionResult{Index: currentIndex, Reason: "no usable account"}
	}

	best := lo.MaxBy(usable, func(a, b scored) bool { return a.score > b.score })
	h.t.Tokens.Consume(best.acc.Email)
	return &SelectionResult{Account: best.acc, Index: best.index, Reason: reason}
}

// candidates returns the scored accounts passing the usability, credit and
// (optionally) quota filters.
func (h *Hybrid) candidates(accounts []*redis.Account, model string, filterQuota bool) []scored {
	indexed := lo.Map(accounts, func(acc *redis.Account, i int) scored {
		return scored{acc: acc, index: i}
	})
	eligible := lo.Filter(indexed, func(s scored, _ int) bool {
		if !h.isUsable(s.acc, model) {
			return false
		}
		if !h.t.Health.IsUsable(s.acc.Email) {
			return false
		}
		if !h.t.Tokens.HasTokens(s.acc.Email) {
			return false
		}
		if filterQuota && h.t.Quota.IsCritical(s.acc, model) {
			return false
		}
		return true
	})
	for i := range eligible {
		eligible[i].score = h.score(eligible[i].acc, model)
	}
	return eligible
}

// score combines the tracker signals:
//
//	2·health + 5·(tokens/max)·100 + 3·quota + 0.1·min(minutesIdle, 60)
func (h *Hybrid) score(acc *redis.Account, model string) float64 {
	health := h.t.Health.GetScore(acc.Email)
	tokens := h.t.Tokens.GetTokens(acc.Email) / h.t.Tokens.MaxTokens() * 100
	quota := h.t.Quota.Score(acc, model)

	idleMinutes := config.LRUCapMinutes
	if acc.LastUsed > 0 {
		idleMinutes = utils.Clamp(float64(h.now().UnixMilli()-acc.LastUsed)/60000, 0, config.LRUCapMinutes)
	}

	return config.WeightHealth*health +
		config.WeightTokens*tokens +
		config.WeightQuota*quota +
		config.WeightLRU*idleMinutes
}
