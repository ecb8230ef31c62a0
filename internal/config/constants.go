// Package config provides configuration loading and shared constants.
package config

import "strings"

// Upstream Cloud Code endpoints. The daily endpoint fronts the same backend
// with a separate quota pool; the primary endpoint is the stable fallback.
const (
	DailyEndpoint   = "https://daily-cloudcode-pa.googleapis.com"
	PrimaryEndpoint = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the ordered roster walked on every dispatch attempt.
var EndpointFallbacks = []string{
	DailyEndpoint,
	PrimaryEndpoint,
}

// DefaultProjectID is used when an account has no discovered project.
const DefaultProjectID = "rising-fact-p41fc"

// Retry and cooldown tuning.
const (
	// MaxRetries bounds the outer dispatch loop together with the account
	// count: maxAttempts = max(MaxRetries, accountCount+1).
	MaxRetries = 3

	// MaxEmptyResponseRetries bounds the streaming empty-response recovery
	// loop. Backoff doubles from EmptyResponseBackoffMs per retry.
	MaxEmptyResponseRetries = 3
	EmptyResponseBackoffMs  = 500

	// DefaultCooldownMs is applied when a 429 carries no usable reset time,
	// and is the threshold separating short rate limits (retry in place)
	// from long ones (mark the account and move on).
	DefaultCooldownMs = 10_000

	// ExtendedCooldownMs sidelines an account after MaxConsecutiveFailures
	// consecutive server/network failures.
	ExtendedCooldownMs     = 300_000
	MaxConsecutiveFailures = 3

	// Model capacity exhaustion is upstream-wide, not per-account, so it is
	// retried in place on the same account.
	MaxCapacityRetries   = 3
	CapacityRetryDelayMs = 2_000

	// RateLimitDedupWindowMs suppresses a second in-place retry for the same
	// model within the window when concurrent requests all hit the same 429.
	RateLimitDedupWindowMs = 2_000

	// MaxWaitBeforeErrorMs is how long the sticky strategy is willing to
	// block for its pinned account before giving up.
	MaxWaitBeforeErrorMs = 120_000

	// ServerErrorRetryDelayMs is slept before advancing the endpoint roster
	// after a 5xx.
	ServerErrorRetryDelayMs = 1_000
)

// Health tracker tuning.
const (
	HealthInitialScore     = 70.0
	HealthMaxScore         = 100.0
	HealthMinUsableScore   = 50.0
	HealthSuccessReward    = 1.0
	HealthRateLimitPenalty = 10.0
	HealthFailurePenalty   = 20.0
	HealthRecoveryPerHour  = 5.0
)

// Token bucket tuning. The bucket is a pure credit counter: consumed on
// dispatch, refunded on failure, never refilled on a clock.
const (
	TokenBucketInitial = 50.0
	TokenBucketMax     = 50.0
)

// Quota tracker tuning.
const (
	QuotaCriticalThreshold = 0.05
	QuotaLowThreshold      = 0.10
	QuotaStaleMs           = 300_000
	QuotaUnknownScore      = 50.0
	QuotaStalePenalty      = 0.10
)

// Hybrid strategy scoring weights.
const (
	WeightHealth  = 2.0
	WeightTokens  = 5.0
	WeightQuota   = 3.0
	WeightLRU     = 0.1
	LRUCapMinutes = 60.0
)

// TokenCacheTTLMs is the lifetime of a refreshed OAuth access token in the
// token cache.
const TokenCacheTTLMs = 300_000

// RequestBodyLimit caps inbound request bodies (10MB).
const RequestBodyLimit = 10 << 20

// ModelFallbackMap maps a model to the one tried when every account is
// rate-limited for the original. Single hop only; the fallback request is
// dispatched once and never falls back again.
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high":    "claude-opus-4-6-thinking",
	"gemini-3-pro-low":     "claude-sonnet-4-5-thinking",
	"gemini-3-pro-preview": "claude-sonnet-4-5-thinking",
	"gemini-2.5-pro":       "claude-sonnet-4-5",
	"gemini-2.5-flash":     "claude-sonnet-4-5",
}

// GetFallbackModel returns the fallback for a model, or "" when none exists.
func GetFallbackModel(model string) string {
	return ModelFallbackMap[model]
}

// SupportedModels is the roster exposed on /v1/models.
var SupportedModels = []string{
	"claude-opus-4-6-thinking",
	"claude-sonnet-4-5-thinking",
	"claude-sonnet-4-5",
	"gemini-3-pro-high",
	"gemini-3-pro-low",
	"gemini-2.5-pro",
	"gemini-2.5-flash",
}

// IsThinkingModel reports whether a model emits thinking blocks. Upstream
// only surfaces those on the SSE endpoint, so buffered requests for these
// models are dispatched as streams and accumulated.
func IsThinkingModel(model string) bool {
	return strings.HasSuffix(model, "-thinking")
}

// CloudCodeHeaders returns the static headers sent with every upstream call.
func CloudCodeHeaders() map[string]string {
	return map[string]string{
		"Content-Type":      "application/json",
		"User-Agent":        "antigravity/1.11.9 (linux; x64)",
		"X-Goog-Api-Client": "google-api-nodejs-client/9.15.1",
	}
}

// OAuth client registration used for account onboarding and token refresh.
const (
	OAuthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	OAuthClientSecret = "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"
	OAuthAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	OAuthTokenURL     = "https://oauth2.googleapis.com/token"
	OAuthUserInfoURL  = "https://www.googleapis.com/oauth2/v1/userinfo"
	OAuthCallbackPort = 51121
)

// OAuthScopes requested during account onboarding.
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}
