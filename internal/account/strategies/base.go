package strategies

import (
	"time"

	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// base carries the shared usability checks and default outcome hooks.
type base struct {
	t   *Trackers
	now func() time.Time
}

func newBase(t *Trackers) base {
	return base{t: t, now: time.Now}
}

// isUsable reports whether an account may serve the model right now:
// enabled, not invalid, and any rate-limit entry for the model expired.
func (b *base) isUsable(acc *redis.Account, model string) bool {
	if acc == nil || !acc.Enabled || acc.IsInvalid {
		return false
	}
	return b.rateLimitWaitMs(acc, model) <= 0
}

// rateLimitWaitMs returns how long until the account's rate limit for the
// model expires; 0 or negative when not limited.
func (b *base) rateLimitWaitMs(acc *redis.Account, model string) int64 {
	if acc.ModelRateLimits == nil {
		return 0
	}
	info, ok := acc.ModelRateLimits[model]
	if !ok || info == nil || !info.IsRateLimited {
		return 0
	}
	return info.ResetTime - b.now().UnixMilli()
}

func (b *base) OnSuccess(email, model string) {
	b.t.Health.RecordSuccess(email)
}

func (b *base) OnRateLimit(email, model string) {
	b.t.Health.RecordRateLimit(email)
	// The request never completed; give the spend credit back.
	b.t.Tokens.Refund(email)
}

func (b *base) OnFailure(email, model string) int {
	b.t.Tokens.Refund(email)
	return b.t.Health.RecordFailure(email)
}
