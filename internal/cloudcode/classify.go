// Package cloudcode implements the dispatch engine: account failover, the
// 429 discrimination rules, streaming recovery and the upstream protocol
// plumbing.
package cloudcode

import (
	"strings"

	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

// IsPermanentAuthFailure detects 401 bodies that mean the account's grant is
// dead and re-authentication is required. Anything else on a 401 is treated
// as a stale access token.
func IsPermanentAuthFailure(errorText string) bool {
	lower := strings.ToLower(errorText)
	return utils.ContainsAny(lower,
		"invalid_grant",
		"token revoked",
		"token has been expired or revoked",
		"token_revoked",
		"invalid_client",
		"credentials are invalid")
}

// IsModelCapacityExhausted detects 429 bodies caused by upstream model
// capacity rather than this account's quota. Switching accounts cannot help;
// the same account is retried in place.
func IsModelCapacityExhausted(errorText string) bool {
	lower := strings.ToLower(errorText)
	return utils.ContainsAny(lower,
		"model_capacity_exhausted",
		"capacity_exhausted",
		"model is currently overloaded",
		"service temporarily unavailable")
}

// IsQuotaExhaustedText detects 429 bodies naming a daily/period quota rather
// than a transient request rate.
func IsQuotaExhaustedText(errorText string) bool {
	lower := strings.ToLower(errorText)
	return utils.ContainsAny(lower,
		"quota exceeded",
		"quota_exhausted",
		"resource_exhausted",
		"daily limit")
}
