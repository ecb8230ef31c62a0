package trackers

import "testing"

func TestTokenBucketStartsFull(t *testing.T) {
	tb := NewTokenBucketTracker()
	if got := tb.GetTokens("a@example.com"); got != 50 {
		t.Fatalf("initial tokens = %v, want 50", got)
	}
}

func TestTokenBucketConsumeAndRefund(t *testing.T) {
	tb := NewTokenBucketTracker()

	if !tb.Consume("a@example.com") {
		t.Fatal("consume on full bucket should succeed")
	}
	if got := tb.GetTokens("a@example.com"); got != 49 {
		t.Fatalf("tokens after consume = %v, want 49", got)
	}

	tb.Refund("a@example.com")
	if got := tb.GetTokens("a@example.com"); got != 50 {
		t.Fatalf("tokens after refund = %v, want 50", got)
	}

	// Refund never exceeds capacity.
	tb.Refund("a@example.com")
	if got := tb.GetTokens("a@example.com"); got != 50 {
		t.Fatalf("tokens after extra refund = %v, want capped at 50", got)
	}
}

func TestTokenBucketExhaustion(t *testing.T) {
	tb := NewTokenBucketTracker()
	for i := 0; i < 50; i++ {
		if !tb.Consume("a@example.com") {
			t.Fatalf("consume %d should succeed", i)
		}
	}
	if tb.Consume("a@example.com") {
		t.Fatal("consume on empty bucket should fail")
	}
	if tb.HasTokens("a@example.com") {
		t.Fatal("empty bucket should report no tokens")
	}

	// No clock-based refill: balance stays at zero until a refund.
	if got := tb.GetTokens("a@example.com"); got != 0 {
		t.Fatalf("tokens = %v, want 0", got)
	}
	tb.Refund("a@example.com")
	if !tb.HasTokens("a@example.com") {
		t.Fatal("bucket should have a token after refund")
	}
}
