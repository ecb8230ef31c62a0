package strategies

import (
	"testing"
	"time"

	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

func TestHybridPrefersHealthierAccount(t *testing.T) {
	tr := NewTrackers()
	h := NewHybrid(tr)

	a, b := testAccount("a@x.com"), testAccount("b@x.com")
	pool := []*redis.Account{a, b}

	// Two failures drop a@ to 30 health; b@ stays at 70.
	tr.Health.RecordFailure("a@x.com")
	tr.Health.RecordFailure("a@x.com")

	res := h.Select(pool, testModel, -1)
	if res.Account == nil || res.Account.Email != "b@x.com" {
		t.Fatalf("hybrid should pick the healthier account, got %+v", res.Account)
	}
}

func TestHybridPrefersLeastRecentlyUsed(t *testing.T) {
	h := NewHybrid(NewTrackers())

	now := time.Now().UnixMilli()
	a, b := testAccount("a@x.com"), testAccount("b@x.com")
	a.LastUsed = now - 1_000       // just used
	b.LastUsed = now - 30*60_000   // idle half an hour
	pool := []*redis.Account{a, b}

	res := h.Select(pool, testModel, -1)
	if res.Account == nil || res.Account.Email != "b@x.com" {
		t.Fatalf("hybrid should prefer the idle account, got %+v", res.Account)
	}
}

func TestHybridExcludesUnhealthyAccounts(t *testing.T) {
	tr := NewTrackers()
	h := NewHybrid(tr)

	a := testAccount("a@x.com")
	// Two failures drop the score to 30, below the usable floor of 50.
	tr.Health.RecordFailure("a@x.com")
	tr.Health.RecordFailure("a@x.com")

	res := h.Select([]*redis.Account{a}, testModel, -1)
	if res.Account != nil {
		t.Fatalf("unhealthy account must not be selected, got %s", res.Account.Email)
	}
}

func TestHybridExcludesQuotaCriticalUntilFallback(t *testing.T) {
	h := NewHybrid(NewTrackers())

	critical := testAccount("a@x.com")
	critical.Quota = &redis.QuotaInfo{
		Models:      map[string]*redis.ModelQuotaInfo{testModel: {RemainingFraction: 0.02}},
		LastChecked: time.Now().UnixMilli(),
	}
	healthy := testAccount("b@x.com")
	pool := []*redis.Account{critical, healthy}

	res := h.Select(pool, testModel, -1)
	if res.Account == nil || res.Account.Email != "b@x.com" {
		t.Fatalf("quota-critical account should be filtered, got %+v", res.Account)
	}

	// With only the critical account left, the quota filter is dropped.
	res = h.Select([]*redis.Account{critical}, testModel, -1)
	if res.Account == nil || res.Account.Email != "a@x.com" {
		t.Fatalf("fallback should allow the critical account, got %+v", res.Account)
	}
	if res.Reason != "hybrid (quota fallback)" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestHybridConsumesSpendCredit(t *testing.T) {
	tr := NewTrackers()
	h := NewHybrid(tr)
	pool := []*redis.Account{testAccount("a@x.com")}

	h.Select(pool, testModel, -1)
	if got := tr.Tokens.GetTokens("a@x.com"); got != 49 {
		t.Fatalf("tokens after select = %v, want 49", got)
	}

	// A failure refunds the credit.
	h.OnFailure("a@x.com", testModel)
	if got := tr.Tokens.GetTokens("a@x.com"); got != 50 {
		t.Fatalf("tokens after failure refund = %v, want 50", got)
	}
}

func TestHybridReportsWaitWhenAllLimited(t *testing.T) {
	h := NewHybrid(NewTrackers())
	a := testAccount("a@x.com")
	rateLimit(a, testModel, 4_000)

	res := h.Select([]*redis.Account{a}, testModel, -1)
	if res.Account != nil {
		t.Fatalf("no account expected, got %s", res.Account.Email)
	}
	if res.WaitMs <= 0 {
		t.Fatalf("waitMs = %d, want positive", res.WaitMs)
	}
}
