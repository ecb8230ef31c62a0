package trackers

import (
	"time"

	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// QuotaTracker evaluates the remaining-fraction snapshots carried on
// accounts. It is stateless: the snapshots live on the Account so they
// survive restarts with the rest of the pool.
type QuotaTracker struct {
	now func() time.Time
}

// NewQuotaTracker creates a tracker.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{now: time.Now}
}

// fraction returns (remainingFraction, known, fresh) for an account/model.
func (t *QuotaTracker) fraction(acc *redis.Account, model string) (float64, bool, bool) {
	if acc == nil || acc.Quota == nil || acc.Quota.Models == nil {
		return 0, false, false
	}
	info, ok := acc.Quota.Models[model]
	if !ok || info == nil {
		return 0, false, false
	}
	ageMs := t.now().UnixMilli() - acc.Quota.LastChecked
	return info.RemainingFraction, true, ageMs <= config.QuotaStaleMs
}

// IsCritical reports whether the account's quota for the model is known,
// fresh and at or below the critical threshold. A stale snapshot is never
// critical: the account may have recovered since.
func (t *QuotaTracker) IsCritical(acc *redis.Account, model string) bool {
	f, known, fresh := t.fraction(acc, model)
	return known && fresh && f <= config.QuotaCriticalThreshold
}

// IsLow reports whether the known quota sits between the critical and low
// thresholds. Freshness is not required; low is advisory.
func (t *QuotaTracker) IsLow(acc *redis.Account, model string) bool {
	f, known, _ := t.fraction(acc, model)
	return known && f > config.QuotaCriticalThreshold && f <= config.QuotaLowThreshold
}

// Score maps quota state onto a 0-100 scale for hybrid scoring. Unknown
// quota scores a neutral 50; stale snapshots are discounted 10%.
func (t *QuotaTracker) Score(acc *redis.Account, model string) float64 {
	f, known, fresh := t.fraction(acc, model)
	if !known {
		return config.QuotaUnknownScore
	}
	score := f * 100
	if !fresh {
		score *= 1 - config.QuotaStalePenalty
	}
	return score
}
