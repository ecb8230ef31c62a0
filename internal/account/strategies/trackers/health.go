// Package trackers holds the per-account signals the selection strategies
// score on: health, spend credits and quota freshness.
package trackers

import (
	"sync"
	"time"

	"github.com/poemonsense/cloudcode-relay/internal/config"
)

type healthState struct {
	score               float64
	lastUpdated         time.Time
	consecutiveFailures int
}

// HealthTracker keeps a 0-100 health score per account. Accounts start at
// 70, earn +1 per success, lose 10 per rate limit and 20 per hard failure,
// and passively recover while idle. Below 50 an account is considered
// unhealthy for selection.
type HealthTracker struct {
	mu     sync.RWMutex
	states map[string]*healthState
	now    func() time.Time
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		states: make(map[string]*healthState),
		now:    time.Now,
	}
}

func (t *HealthTracker) state(email string) *healthState {
	st, ok := t.states[email]
	if !ok {
		st = &healthState{score: config.HealthInitialScore, lastUpdated: t.now()}
		t.states[email] = st
	}
	return st
}

// applyRecovery folds idle-time recovery into the score. Caller holds the
// write lock.
func (t *HealthTracker) applyRecovery(st *healthState) {
	elapsed := t.now().Sub(st.lastUpdated)
	if elapsed <= 0 {
		return
	}
	recovered := elapsed.Hours() * config.HealthRecoveryPerHour
	if recovered > 0 && st.score < config.HealthMaxScore {
		st.score = min(st.score+recovered, config.HealthMaxScore)
	}
	st.lastUpdated = t.now()
}

// GetScore returns the current health score, with passive recovery applied.
func (t *HealthTracker) GetScore(email string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(email)
	t.applyRecovery(st)
	return st.score
}

// IsUsable reports whether the account's health is at or above the usable
// floor.
func (t *HealthTracker) IsUsable(email string) bool {
	return t.GetScore(email) >= config.HealthMinUsableScore
}

// RecordSuccess rewards a completed request and clears the consecutive
// failure counter.
func (t *HealthTracker) RecordSuccess(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(email)
	t.applyRecovery(st)
	st.score = min(st.score+config.HealthSuccessReward, config.HealthMaxScore)
	st.consecutiveFailures = 0
}

// RecordRateLimit penalizes a 429 and extends the consecutive failure
// streak.
func (t *HealthTracker) RecordRateLimit(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(email)
	t.applyRecovery(st)
	st.score = max(st.score-config.HealthRateLimitPenalty, 0)
	st.consecutiveFailures++
}

// RecordFailure penalizes a server or network failure and returns the new
// consecutive failure count.
func (t *HealthTracker) RecordFailure(email string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(email)
	t.applyRecovery(st)
	st.score = max(st.score-config.HealthFailurePenalty, 0)
	st.consecutiveFailures++
	return st.consecutiveFailures
}

// ConsecutiveFailures returns the current failure streak.
func (t *HealthTracker) ConsecutiveFailures(email string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[email]; ok {
		return st.consecutiveFailures
	}
	return 0
}

// Forget drops all state for an account.
func (t *HealthTracker) Forget(email string) {
	t.mu.Lock()
	delete(t.states, email)
	t.mu.Unlock()
}
