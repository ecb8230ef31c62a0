// Package errors defines the typed errors the dispatch engine reports and
// the mapping from those errors to Anthropic-style API error responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried on RelayError. The dispatch loops branch on these.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeRateLimitedDedup   = "RATE_LIMITED_DEDUP"
	CodeQuotaExhausted     = "QUOTA_EXHAUSTED"
	CodeAuthInvalid        = "AUTH_INVALID"
	CodeAuthPermanent      = "AUTH_INVALID_PERMANENT"
	CodeNoAccounts         = "NO_ACCOUNTS"
	CodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	CodeCapacityExhausted  = "MODEL_CAPACITY_EXHAUSTED"
	CodeEmptyResponse      = "EMPTY_RESPONSE"
	CodeUpstreamError      = "UPSTREAM_ERROR"
)

// RelayError is the base error carried through the dispatch loops.
type RelayError struct {
	Message   string
	Code      string
	Retryable bool
	Metadata  map[string]interface{}
}

func (e *RelayError) Error() string { return e.Message }

// RateLimitError reports a rate-limited account/model pair.
type RateLimitError struct {
	RelayError
	Email   string
	Model   string
	ResetMs int64
}

// NewRateLimitError creates a rate limit error with the given code.
func NewRateLimitError(code, email, model string, resetMs int64) *RateLimitError {
	return &RateLimitError{
		RelayError: RelayError{
			Message:   fmt.Sprintf("rate limited on %s for %s (reset in %dms)", model, email, resetMs),
			Code:      code,
			Retryable: true,
		},
		Email:   email,
		Model:   model,
		ResetMs: resetMs,
	}
}

// AuthError reports an authentication failure for an account.
type AuthError struct {
	RelayError
	Email     string
	Permanent bool
}

// NewAuthError creates an auth error; permanent failures carry
// CodeAuthPermanent and are not retryable on the same account.
func NewAuthError(email, message string, permanent bool) *AuthError {
	code := CodeAuthInvalid
	if permanent {
		code = CodeAuthPermanent
	}
	return &AuthError{
		RelayError: RelayError{Message: message, Code: code, Retryable: !permanent},
		Email:      email,
		Permanent:  permanent,
	}
}

// NoAccountsError reports an empty or fully unavailable pool.
type NoAccountsError struct {
	RelayError
	Model    string
	WaitMs   int64
	Fallback string
}

// NewNoAccountsError creates a pool-exhaustion error for a model.
func NewNoAccountsError(model string, waitMs int64) *NoAccountsError {
	return &NoAccountsError{
		RelayError: RelayError{
			Message:   fmt.Sprintf("all accounts rate limited for %s (min wait %dms)", model, waitMs),
			Code:      CodeResourceExhausted,
			Retryable: false,
		},
		Model:  model,
		WaitMs: waitMs,
	}
}

// MaxRetriesError reports exhaustion of the outer dispatch loop.
type MaxRetriesError struct {
	RelayError
	Attempts int
	LastErr  error
}

// NewMaxRetriesError wraps the last per-attempt error after the loop gives up.
func NewMaxRetriesError(attempts int, last error) *MaxRetriesError {
	msg := fmt.Sprintf("request failed after %d attempts", attempts)
	if last != nil {
		msg = fmt.Sprintf("%s: %v", msg, last)
	}
	return &MaxRetriesError{
		RelayError: RelayError{Message: msg, Code: CodeMaxRetriesExceeded, Retryable: false},
		Attempts:   attempts,
		LastErr:    last,
	}
}

func (e *MaxRetriesError) Unwrap() error { return e.LastErr }

// CapacityError reports upstream model capacity exhaustion.
type CapacityError struct {
	RelayError
	Model string
}

// NewCapacityError creates a model-capacity error.
func NewCapacityError(model string) *CapacityError {
	return &CapacityError{
		RelayError: RelayError{
			Message:   fmt.Sprintf("model %s has no available capacity upstream", model),
			Code:      CodeCapacityExhausted,
			Retryable: true,
		},
		Model: model,
	}
}

// EmptyResponseError reports a 200 stream that produced no events.
type EmptyResponseError struct {
	RelayError
}

// NewEmptyResponseError creates an empty-response error.
func NewEmptyResponseError() *EmptyResponseError {
	return &EmptyResponseError{
		RelayError: RelayError{
			Message:   "upstream returned an empty response",
			Code:      CodeEmptyResponse,
			Retryable: true,
		},
	}
}

// APIError reports a non-retryable upstream HTTP error returned to the client.
type APIError struct {
	RelayError
	Status int
	Body   string
}

// NewAPIError creates an upstream API error with the original status code.
func NewAPIError(status int, body string) *APIError {
	return &APIError{
		RelayError: RelayError{
			Message:   fmt.Sprintf("upstream error %d: %s", status, body),
			Code:      CodeUpstreamError,
			Retryable: status >= 500,
		},
		Status: status,
		Body:   body,
	}
}

// IsRateLimitError reports whether err is any rate-limit flavored error.
func IsRateLimitError(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var na *NoAccountsError
	return errors.As(err, &na)
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsPermanentAuthError reports whether err is a permanent auth failure.
func IsPermanentAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Permanent
}

// IsEmptyResponseError reports whether err is an empty-response error.
func IsEmptyResponseError(err error) bool {
	var ee *EmptyResponseError
	return errors.As(err, &ee)
}

// IsCapacityError reports whether err is a model-capacity error.
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// IsServerError reports whether err is a retryable upstream 5xx.
func IsServerError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status >= 500
}

// HTTPStatus maps an error to the status code returned to the client.
func HTTPStatus(err error) int {
	switch {
	case IsRateLimitError(err):
		return http.StatusTooManyRequests
	case IsPermanentAuthError(err):
		return http.StatusUnauthorized
	case IsAuthError(err):
		return http.StatusUnauthorized
	default:
	}

	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	var mr *MaxRetriesError
	if errors.As(err, &mr) {
		if mr.LastErr != nil {
			return HTTPStatus(mr.LastErr)
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// APIErrorType maps an error to the Anthropic error type string.
func APIErrorType(err error) string {
	switch HTTPStatus(err) {
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusNotFound:
		return "not_found_error"
	default:
		return "api_error"
	}
}
