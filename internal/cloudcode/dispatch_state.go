package cloudcode

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

// DispatchState holds the cross-request dedup window. When many concurrent
// requests for the same model hit a 429 at once, only the first performs an
// in-place retry; the rest mark the account and fail over immediately. The
// window is keyed per model so a storm on one model cannot suppress
// legitimate retries on another.
type DispatchState struct {
	mu        sync.Mutex
	lastRetry map[string]int64 // model -> unix ms of last in-place retry
	windowMs  int64
	now       func() time.Time

	cron *cron.Cron
}

// NewDispatchState creates a state with the given dedup window.
func NewDispatchState(windowMs int64) *DispatchState {
	if windowMs <= 0 {
		windowMs = config.RateLimitDedupWindowMs
	}
	return &DispatchState{
		lastRetry: make(map[string]int64),
		windowMs:  windowMs,
		now:       time.Now,
	}
}

// ShouldSkipRetry reports whether an in-place 429 retry for the model falls
// inside the dedup window.
func (s *DispatchState) ShouldSkipRetry(model string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRetry[model]
	if !ok {
		return false
	}
	return s.now().UnixMilli()-last < s.windowMs
}

// RecordRetry stamps the model's dedup timestamp.
func (s *DispatchState) RecordRetry(model string) {
	s.mu.Lock()
	s.lastRetry[model] = s.now().UnixMilli()
	s.mu.Unlock()
}

// Clear drops the model's dedup timestamp. Called on the next successful
// request so a recovered model does not keep suppressing in-place retries.
func (s *DispatchState) Clear(model string) {
	s.mu.Lock()
	delete(s.lastRetry, model)
	s.mu.Unlock()
}

// Sweep drops timestamps older than the retention window. Entries only need
// to outlive the dedup window; a minute of retention is generous.
func (s *DispatchState) Sweep() {
	cutoff := s.now().UnixMilli() - 60_000
	s.mu.Lock()
	removed := 0
	for model, ts := range s.lastRetry {
		if ts < cutoff {
			delete(s.lastRetry, model)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		utils.Debug("[Dispatch] Swept %d stale dedup entries", removed)
	}
}

// StartSweeper schedules Sweep every minute. Idempotent.
func (s *DispatchState) StartSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	s.cron = cron.New()
	_, _ = s.cron.AddFunc("@every 1m", s.Sweep)
	s.cron.Start()
}

// StopSweeper stops the background sweep.
func (s *DispatchState) StopSweeper() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}
