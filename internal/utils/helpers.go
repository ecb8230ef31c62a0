package utils

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Sleep sleeps for the given number of milliseconds, returning early with
// the context error when the context is cancelled.
func Sleep(ctx context.Context, ms int64) error {
	if ms <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateJitter returns a symmetric jitter in [-maxMs/2, +maxMs/2].
func GenerateJitter(maxMs int64) int64 {
	if maxMs <= 0 {
		return 0
	}
	return rand.Int63n(maxMs) - maxMs/2
}

// Clamp limits v to the range [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ContainsAny reports whether s contains any of the given substrings.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsNetworkError reports whether an error looks like a transport-level
// failure rather than an HTTP-level one.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return ContainsAny(msg,
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"tls handshake",
		"eof",
		"broken pipe",
	)
}

// FormatDuration renders a millisecond duration for log lines, e.g. "45s"
// or "2m30s".
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()+0.5))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) - mins*60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}

// MaskEmail hides the middle of an email's local part in logs.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 2 {
		return email
	}
	return email[:2] + "***" + email[at:]
}
