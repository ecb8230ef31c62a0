// Package strategies implements the account selection policies and the
// trackers they score on.
package strategies

import (
	"fmt"

	"github.com/poemonsense/cloudcode-relay/internal/account/strategies/trackers"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// SelectionResult is the outcome of one selection. Account is nil when no
// account is currently usable; in that case WaitMs may carry how long the
// caller should wait before the pool recovers (0 means give up).
type SelectionResult struct {
	Account *redis.Account
	Index   int
	WaitMs  int64
	Reason  string
}

// Strategy picks an account for a model and observes request outcomes.
type Strategy interface {
	Name() string

	// Select picks an account from the pool. currentIndex is the sticky
	// position from the previous selection; strategies that do not use it
	// ignore it.
	Select(accounts []*redis.Account, model string, currentIndex int) *SelectionResult

	// OnSuccess records a completed request on the account.
	OnSuccess(email, model string)
	// OnRateLimit records a 429 observed on the account.
	OnRateLimit(email, model string)
	// OnFailure records a server/network failure and returns the account's
	// consecutive failure count.
	OnFailure(email, model string) int
}

// Trackers bundles the shared per-account signal trackers.
type Trackers struct {
	Health *trackers.HealthTracker
	Tokens *trackers.TokenBucketTracker
	Quota  *trackers.QuotaTracker
}

// NewTrackers creates a fresh tracker set.
func NewTrackers() *Trackers {
	return &Trackers{
		Health: trackers.NewHealthTracker(),
		Tokens: trackers.NewTokenBucketTracker(),
		Quota:  trackers.NewQuotaTracker(),
	}
}

// New creates a strategy by name: "sticky", "round-robin" or "hybrid".
func New(name string, t *Trackers) (Strategy, error) {
	switch name {
	case "sticky":
		return NewSticky(t), nil
	case "round-robin":
		return NewRoundRobin(t), nil
	case "hybrid":
		return NewHybrid(t), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
