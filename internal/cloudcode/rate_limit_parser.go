package cloudcode

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Reset-time extraction patterns, tried in order of reliability.
var (
	retrySecondsRegex = regexp.MustCompile(`(?i)retry\s+after\s+(\d+)\s*seconds?`)
	tryAgainRegex     = regexp.MustCompile(`(?i)try\s+again\s+in\s+(\d+(?:\.\d+)?)\s*s(?:econds?)?`)
	retryMsRegex      = regexp.MustCompile(`(?i)retry\s+in\s+(\d+)\s*ms`)
	durationRegex     = regexp.MustCompile(`^(\d+(?:\.\d+)?)(ms|s|m|h)$`)
	isoTimestampRegex = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})`)
)

// subSecondBufferMs pads implausibly small resets so an immediate retry
// does not hit the same window again.
const subSecondBufferMs = 200

// ParseResetTime extracts the wait in milliseconds from a 429's headers and
// body. Returns -1 when no reset information can be found. Sources, in
// order: Retry-After (delta-seconds or HTTP-date), structured RetryInfo /
// quota delay fields in the error body, then free-text phrases.
func ParseResetTime(headers http.Header, body string) int64 {
	if ms := parseRetryAfter(headers.Get("Retry-After")); ms >= 0 {
		return buffered(ms)
	}

	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			ms := epoch*1000 - time.Now().UnixMilli()
			if ms > 0 {
				return buffered(ms)
			}
		}
	}

	if ms := parseStructuredDelay(body); ms >= 0 {
		return buffered(ms)
	}

	if m := retrySecondsRegex.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return buffered(secs * 1000)
		}
	}
	if m := tryAgainRegex.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return buffered(int64(secs * 1000))
		}
	}
	if m := retryMsRegex.FindStringSubmatch(body); m != nil {
		if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return buffered(ms)
		}
	}

	if m := isoTimestampRegex.FindString(body); m != "" {
		if ts, err := time.Parse(time.RFC3339, m); err == nil {
			ms := time.Until(ts).Milliseconds()
			if ms > 0 {
				return buffered(ms)
			}
		}
	}

	return -1
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms; -1 when
// absent or unparseable.
func parseRetryAfter(value string) int64 {
	if value == "" {
		return -1
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs >= 0 {
		return secs * 1000
	}
	if t, err := http.ParseTime(value); err == nil {
		if ms := time.Until(t).Milliseconds(); ms > 0 {
			return ms
		}
		return 0
	}
	return -1
}

// parseStructuredDelay pulls google.rpc.RetryInfo and quota delay fields
// out of a JSON error body; -1 when none found.
func parseStructuredDelay(body string) int64 {
	if !gjson.Valid(body) {
		return -1
	}

	// error.details[] carrying type.googleapis.com/google.rpc.RetryInfo
	details := gjson.Get(body, "error.details")
	if details.IsArray() {
		var found int64 = -1
		details.ForEach(func(_, detail gjson.Result) bool {
			if strings.HasSuffix(detail.Get("@type").String(), "RetryInfo") {
				if ms := parseDurationString(detail.Get("retryDelay").String()); ms >= 0 {
					found = ms
					return false
				}
			}
			return true
		})
		if found >= 0 {
			return found
		}
	}

	for _, path := range []string{"error.retryDelay", "retryDelay", "quotaResetDelay", "error.quotaResetDelay"} {
		if v := gjson.Get(body, path); v.Exists() {
			if ms := parseDurationString(v.String()); ms >= 0 {
				return ms
			}
		}
	}
	return -1
}

// parseDurationString parses proto duration strings like "30s", "1.5s" or
// "500ms"; -1 when the string is not a duration.
func parseDurationString(s string) int64 {
	m := durationRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return -1
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return -1
	}
	switch m[2] {
	case "ms":
		return int64(value)
	case "s":
		return int64(value * 1000)
	case "m":
		return int64(value * 60_000)
	case "h":
		return int64(value * 3_600_000)
	}
	return -1
}

func buffered(ms int64) int64 {
	if ms >= 0 && ms < 500 {
		return ms + subSecondBufferMs
	}
	return ms
}
