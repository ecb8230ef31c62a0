package strategies

import (
	"testing"
	"time"

	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

const testModel = "claude-sonnet-4-5"

func testAccount(email string) *redis.Account {
	return &redis.Account{Email: email, Enabled: true}
}

func rateLimit(acc *redis.Account, model string, waitMs int64) {
	if acc.ModelRateLimits == nil {
		acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
	}
	acc.ModelRateLimits[model] = &redis.RateLimitInfo{
		IsRateLimited: true,
		ResetTime:     time.Now().UnixMilli() + waitMs,
	}
}

func TestStickyStaysOnCurrentAccount(t *testing.T) {
	s := NewSticky(NewTrackers())
	pool := []*redis.Account{testAccount("a@x.com"), testAccount("b@x.com")}

	res := s.Select(pool, testModel, 1)
	if res.Account == nil || res.Account.Email != "b@x.com" {
		t.Fatalf("sticky should keep index 1, got %+v", res)
	}
	if res.Index != 1 {
		t.Fatalf("index = %d, want 1", res.Index)
	}
}

func TestStickyClampsStaleIndex(t *testing.T) {
	s := NewSticky(NewTrackers())
	pool := []*redis.Account{testAccount("a@x.com")}

	res := s.Select(pool, testModel, 7)
	if res.Account == nil || res.Account.Email != "a@x.com" {
		t.Fatalf("stale index should clamp to 0, got %+v", res)
	}
}

func TestStickySwitchesPastUnusableAccounts(t *testing.T) {
	s := NewSticky(NewTrackers())
	a, b, c := testAccount("a@x.com"), testAccount("b@x.com"), testAccount("c@x.com")
	rateLimit(a, testModel, 60_000)
	b.IsInvalid = true
	pool := []*redis.Account{a, b, c}

	res := s.Select(pool, testModel, 0)
	if res.Account == nil || res.Account.Email != "c@x.com" {
		t.Fatalf("should wrap to c, got %+v", res)
	}
	if res.Reason != "switched" {
		t.Fatalf("reason = %q, want switched", res.Reason)
	}
}

func TestStickyWaitsForShortRateLimit(t *testing.T) {
	s := NewSticky(NewTrackers())
	a := testAccount("a@x.com")
	rateLimit(a, testModel, 3_000)
	pool := []*redis.Account{a}

	res := s.Select(pool, testModel, 0)
	if res.Account != nil {
		t.Fatalf("no account should be returned, got %s", res.Account.Email)
	}
	if res.WaitMs <= 0 || res.WaitMs > 3_000 {
		t.Fatalf("waitMs = %d, want in (0, 3000]", res.WaitMs)
	}
}

func TestStickyGivesUpOnLongRateLimit(t *testing.T) {
	s := NewSticky(NewTrackers())
	a := testAccount("a@x.com")
	rateLimit(a, testModel, 10*60_000) // past the 120s wait ceiling
	pool := []*redis.Account{a}

	res := s.Select(pool, testModel, 0)
	if res.Account != nil || res.WaitMs != 0 {
		t.Fatalf("long limit should not produce a wait, got %+v", res)
	}
}

func TestStickyRateLimitIsPerModel(t *testing.T) {
	s := NewSticky(NewTrackers())
	a := testAccount("a@x.com")
	rateLimit(a, "gemini-3-pro-high", 60_000)
	pool := []*redis.Account{a}

	res := s.Select(pool, testModel, 0)
	if res.Account == nil {
		t.Fatal("rate limit on another model should not block this one")
	}
}
