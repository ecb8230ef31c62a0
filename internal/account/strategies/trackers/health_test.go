package trackers

import (
	"testing"
	"time"
)

func TestHealthStartsAtInitialScore(t *testing.T) {
	ht := NewHealthTracker()
	if got := ht.GetScore("a@example.com"); got != 70 {
		t.Fatalf("initial score = %v, want 70", got)
	}
	if !ht.IsUsable("a@example.com") {
		t.Fatal("fresh account should be usable")
	}
}

func TestHealthRewardAndCap(t *testing.T) {
	ht := NewHealthTracker()
	for i := 0; i < 50; i++ {
		ht.RecordSuccess("a@example.com")
	}
	if got := ht.GetScore("a@example.com"); got != 100 {
		t.Fatalf("score after 50 successes = %v, want capped at 100", got)
	}
}

func TestHealthPenalties(t *testing.T) {
	ht := NewHealthTracker()

	ht.RecordRateLimit("a@example.com")
	if got := ht.GetScore("a@example.com"); got != 60 {
		t.Fatalf("score after rate limit = %v, want 60", got)
	}

	ht.RecordFailure("a@example.com")
	if got := ht.GetScore("a@example.com"); got != 40 {
		t.Fatalf("score after failure = %v, want 40", got)
	}
	if ht.IsUsable("a@example.com") {
		t.Fatal("account at 40 should not be usable")
	}
}

func TestHealthScoreFloor(t *testing.T) {
	ht := NewHealthTracker()
	for i := 0; i < 10; i++ {
		ht.RecordFailure("a@example.com")
	}
	if got := ht.GetScore("a@example.com"); got != 0 {
		t.Fatalf("score = %v, want floor of 0", got)
	}
}

func TestHealthConsecutiveFailures(t *testing.T) {
	ht := NewHealthTracker()

	if n := ht.RecordFailure("a@example.com"); n != 1 {
		t.Fatalf("first failure count = %d, want 1", n)
	}
	if n := ht.RecordFailure("a@example.com"); n != 2 {
		t.Fatalf("second failure count = %d, want 2", n)
	}

	// Rate limits extend the streak too.
	ht.RecordRateLimit("a@example.com")
	if n := ht.ConsecutiveFailures("a@example.com"); n != 3 {
		t.Fatalf("streak after rate limit = %d, want 3", n)
	}

	ht.RecordSuccess("a@example.com")
	if n := ht.ConsecutiveFailures("a@example.com"); n != 0 {
		t.Fatalf("streak after success = %d, want 0", n)
	}
}

func TestHealthPassiveRecovery(t *testing.T) {
	ht := NewHealthTracker()
	base := time.Now()
	ht.now = func() time.Time { return base }

	ht.RecordFailure("a@example.com") // 50
	ht.RecordFailure("a@example.com") // 30

	// Two hours idle recovers 2 * 5 points.
	ht.now = func() time.Time { return base.Add(2 * time.Hour) }
	if got := ht.GetScore("a@example.com"); got != 40 {
		t.Fatalf("score after 2h idle = %v, want 40", got)
	}
}
