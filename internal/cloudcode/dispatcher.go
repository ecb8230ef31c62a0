package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/poemonsense/cloudcode-relay/internal/account/strategies"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	errs "github.com/poemonsense/cloudcode-relay/internal/errors"
	"github.com/poemonsense/cloudcode-relay/internal/format"
	"github.com/poemonsense/cloudcode-relay/internal/metrics"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// maxErrorBodyBytes caps how much of an upstream error body is read.
const maxErrorBodyBytes = 1 << 20

// Accounts is the account-pool surface the dispatcher depends on.
type Accounts interface {
	GetAccountCount() int
	SelectAccount(ctx context.Context, model string) *strategies.SelectionResult
	MarkRateLimited(ctx context.Context, email, model string, durationMs int64)
	ClearRateLimit(ctx context.Context, email, model string)
	MarkInvalid(ctx context.Context, email, reason string)
	NoteQuotaExhausted(ctx context.Context, email, model string)
	GetMinWaitTimeMs(model string) int64
	NotifySuccess(ctx context.Context, email, model string)
	NotifyRateLimit(ctx context.Context, email, model string)
	NotifyFailure(ctx context.Context, email, model string) int
	TokenFor(ctx context.Context, acc *redis.Account) (string, error)
	ProjectFor(ctx context.Context, acc *redis.Account) (string, error)
	ClearTokenCache(ctx context.Context, email string)
	ClearProjectCache(ctx context.Context, email string)
}

// Dispatcher multiplexes requests across the account pool with retry,
// endpoint fallback and rate-limit failover.
type Dispatcher struct {
	cfg      *config.Config
	accounts Accounts
	state    *DispatchState
	client   *http.Client
}

// NewDispatcher creates a dispatcher and starts the dedup sweeper.
func NewDispatcher(cfg *config.Config, accounts Accounts) *Dispatcher {
	state := NewDispatchState(cfg.Dispatch.RateLimitDedupWindowMs)
	state.StartSweeper()
	return &Dispatcher{
		cfg:      cfg,
		accounts: accounts,
		state:    state,
		client:   &http.Client{},
	}
}

// Close stops background work.
func (d *Dispatcher) Close() {
	d.state.StopSweeper()
}

// SendMessage dispatches a non-streaming request. When the pool is fully
// rate-limited for the model and a fallback model is configured, the request
// is re-dispatched once on the fallback.
func (d *Dispatcher) SendMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(req.Model, "false").Observe(time.Since(start).Seconds())
	}()

	greq := format.ConvertRequest(req)

	resp, err := d.sendOnce(ctx, req.Model, greq)
	if err == nil {
		return format.ConvertResponse(resp, req.Model), nil
	}

	if fb := d.fallbackFor(req.Model, err); fb != "" {
		utils.Warn("[Dispatch] All accounts limited for %s, falling back to %s", req.Model, fb)
		metrics.ModelFallbacks.WithLabelValues(req.Model, fb).Inc()
		resp, fbErr := d.sendOnce(ctx, fb, greq)
		if fbErr == nil {
			return format.ConvertResponse(resp, fb), nil
		}
		return nil, fbErr
	}
	return nil, err
}

// fallbackFor returns the fallback model when err is pool exhaustion or
// retry exhaustion and fallback is enabled; "" otherwise. Single hop: the
// fallback dispatch never falls back again.
func (d *Dispatcher) fallbackFor(model string, err error) string {
	if !d.cfg.Dispatch.FallbackEnabled {
		return ""
	}
	var na *errs.NoAccountsError
	var mr *errs.MaxRetriesError
	if !errors.As(err, &na) && !errors.As(err, &mr) {
		return ""
	}
	return config.GetFallbackModel(model)
}

// sendOnce runs the retry loop for one model, parsing the winning response.
// Thinking models only produce thinking blocks on the SSE surface, so their
// buffered requests go upstream as a stream and are accumulated here.
func (d *Dispatcher) sendOnce(ctx context.Context, model string, greq *format.GoogleRequest) (*format.GoogleResponse, error) {
	stream := config.IsThinkingModel(model)

	var out *format.GoogleResponse
	err := d.run(ctx, model, func(ctx context.Context, acc *redis.Account) error {
		resp, err := d.doAttempt(ctx, acc, model, greq, stream)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var gr *format.GoogleResponse
		if stream {
			gr, err = accumulateSSE(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read upstream stream: %w", err)
			}
		} else {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read upstream response: %w", err)
			}
			gr = &format.GoogleResponse{}
			if err := json.Unmarshal(data, gr); err != nil {
				return errs.NewAPIError(http.StatusBadGateway, "unparseable upstream response")
			}
		}
		if gr.IsEmpty() {
			return errs.NewEmptyResponseError()
		}
		out = gr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run is the outer dispatch loop: select an account, try it, classify the
// failure, fail over. Shared by the streaming and non-streaming paths.
func (d *Dispatcher) run(ctx context.Context, model string, try func(ctx context.Context, acc *redis.Account) error) error {
	maxAttempts := d.cfg.Dispatch.MaxRetries
	if n := d.accounts.GetAccountCount() + 1; n > maxAttempts {
		maxAttempts = n
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sel := d.accounts.SelectAccount(ctx, model)
		if sel == nil || sel.Account == nil {
			if sel != nil && sel.WaitMs > 0 && sel.WaitMs <= d.cfg.Dispatch.MaxWaitBeforeErrorMs {
				// Jitter so concurrent waiters do not stampede the account
				// the moment its limit expires.
				wait := sel.WaitMs + utils.GenerateJitter(500)
				if wait < 0 {
					wait = 0
				}
				utils.Info("[Dispatch] All accounts limited for %s, waiting %s",
					model, utils.FormatDuration(wait))
				if err := utils.Sleep(ctx, wait); err != nil {
					return err
				}
				lastErr = errs.NewNoAccountsError(model, sel.WaitMs)
				continue
			}
			return errs.NewNoAccountsError(model, d.accounts.GetMinWaitTimeMs(model))
		}

		acc := sel.Account
		err := try(ctx, acc)
		if err == nil {
			d.state.Clear(model)
			d.accounts.ClearRateLimit(ctx, acc.Email, model)
			d.accounts.NotifySuccess(ctx, acc.Email, model)
			metrics.DispatchAttempts.WithLabelValues("success").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		switch {
		case errs.IsRateLimitError(err):
			metrics.DispatchAttempts.WithLabelValues("rate_limited").Inc()
			metrics.AccountSwitches.Inc()
			d.accounts.NotifyRateLimit(ctx, acc.Email, model)
			utils.Warn("[Dispatch] Attempt %d/%d rate limited on %s: %v",
				attempt, maxAttempts, utils.MaskEmail(acc.Email), err)

		case errs.IsAuthError(err):
			// Permanent failures already marked the account invalid; either
			// way the next iteration selects a different account.
			metrics.DispatchAttempts.WithLabelValues("auth_error").Inc()
			metrics.AccountSwitches.Inc()
			utils.Warn("[Dispatch] Attempt %d/%d auth failure on %s: %v",
				attempt, maxAttempts, utils.MaskEmail(acc.Email), err)

		case errs.IsServerError(err), errs.IsCapacityError(err),
			errs.IsEmptyResponseError(err), utils.IsNetworkError(err):
			outcome := "server_error"
			if utils.IsNetworkError(err) {
				outcome = "network_error"
			} else if errs.IsEmptyResponseError(err) {
				outcome = "empty_response"
			}
			metrics.DispatchAttempts.WithLabelValues(outcome).Inc()

			streak := d.accounts.NotifyFailure(ctx, acc.Email, model)
			if streak >= d.cfg.Dispatch.MaxConsecutiveFailures {
				utils.Warn("[Dispatch] %s failed %d times in a row, extended cooldown",
					utils.MaskEmail(acc.Email), streak)
				d.accounts.MarkRateLimited(ctx, acc.Email, model, d.cfg.Dispatch.ExtendedCooldownMs)
			}
			if utils.IsNetworkError(err) {
				if serr := utils.Sleep(ctx, d.cfg.Dispatch.ServerErrorRetryDelayMs); serr != nil {
					return serr
				}
			}
			utils.Warn("[Dispatch] Attempt %d/%d failed on %s: %v",
				attempt, maxAttempts, utils.MaskEmail(acc.Email), err)

		default:
			// Client errors (400 etc) are not the pool's fault; return them
			// verbatim instead of burning accounts.
			return err
		}
	}
	return errs.NewMaxRetriesError(maxAttempts, lastErr)
}

// doAttempt performs one account's attempt: walk the endpoint roster, apply
// the 429 and 401 rules, and return the open 200 response. The caller owns
// closing the response body.
func (d *Dispatcher) doAttempt(ctx context.Context, acc *redis.Account, model string, greq *format.GoogleRequest, stream bool) (*http.Response, error) {
	token, err := d.accounts.TokenFor(ctx, acc)
	if err != nil {
		return nil, errs.NewAuthError(acc.Email, fmt.Sprintf("failed to obtain access token: %v", err), false)
	}
	project, err := d.accounts.ProjectFor(ctx, acc)
	if err != nil {
		return nil, errs.NewAuthError(acc.Email, fmt.Sprintf("failed to resolve project: %v", err), false)
	}

	body, err := json.Marshal(BuildPayload(project, model, greq))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var lastErr error
	for _, endpoint := range d.cfg.Dispatch.Endpoints {
		capacityRetries := 0
		inPlaceRetried := false

	endpointLoop:
		for {
			resp, err := d.post(ctx, endpoint, token, body, stream)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = err
				break // next endpoint
			}
			if resp.StatusCode == http.StatusOK {
				return resp, nil
			}

			errBody := readErrorBody(resp)

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				metrics.RateLimitsObserved.WithLabelValues(model).Inc()
				resetMs := ParseResetTime(resp.Header, errBody)

				if IsModelCapacityExhausted(errBody) {
					if capacityRetries < d.cfg.Dispatch.MaxCapacityRetries {
						capacityRetries++
						utils.Warn("[Dispatch] Model capacity exhausted for %s, retry %d/%d",
							model, capacityRetries, d.cfg.Dispatch.MaxCapacityRetries)
						if err := utils.Sleep(ctx, d.cfg.Dispatch.CapacityRetryDelayMs); err != nil {
							return nil, err
						}
						continue
					}
					d.accounts.MarkRateLimited(ctx, acc.Email, model, resetMs)
					return nil, errs.NewCapacityError(model)
				}

				if d.state.ShouldSkipRetry(model) {
					d.accounts.MarkRateLimited(ctx, acc.Email, model, resetMs)
					return nil, errs.NewRateLimitError(errs.CodeRateLimitedDedup, acc.Email, model, resetMs)
				}

				if IsQuotaExhaustedText(errBody) || resetMs > d.cfg.Dispatch.DefaultCooldownMs {
					if IsQuotaExhaustedText(errBody) {
						d.accounts.NoteQuotaExhausted(ctx, acc.Email, model)
					}
					d.accounts.MarkRateLimited(ctx, acc.Email, model, resetMs)
					return nil, errs.NewRateLimitError(errs.CodeQuotaExhausted, acc.Email, model, resetMs)
				}

				// A short or unknown reset gets one in-place retry before the
				// account is marked. Unknown resets sleep the default cooldown.
				if !inPlaceRetried {
					inPlaceRetried = true
					d.state.RecordRetry(model)
					waitMs := resetMs
					if waitMs <= 0 {
						waitMs = d.cfg.Dispatch.DefaultCooldownMs
					}
					utils.Info("[Dispatch] Short rate limit on %s, retrying in %s",
						utils.MaskEmail(acc.Email), utils.FormatDuration(waitMs))
					if err := utils.Sleep(ctx, waitMs); err != nil {
						return nil, err
					}
					continue
				}

				d.accounts.MarkRateLimited(ctx, acc.Email, model, resetMs)
				return nil, errs.NewRateLimitError(errs.CodeRateLimited, acc.Email, model, resetMs)

			case resp.StatusCode == http.StatusUnauthorized:
				if IsPermanentAuthFailure(errBody) {
					reason := truncate(errBody, 200)
					d.accounts.MarkInvalid(ctx, acc.Email, reason)
					return nil, errs.NewAuthError(acc.Email, reason, true)
				}
				// Stale token: drop caches, refresh once and move to the
				// next endpoint with the new token.
				d.accounts.ClearTokenCache(ctx, acc.Email)
				d.accounts.ClearProjectCache(ctx, acc.Email)
				fresh, err := d.accounts.TokenFor(ctx, acc)
				if err != nil {
					return nil, errs.NewAuthError(acc.Email, fmt.Sprintf("token refresh failed: %v", err), false)
				}
				token = fresh
				lastErr = errs.NewAuthError(acc.Email, "access token rejected", false)
				break endpointLoop

			case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
				// Per-endpoint conditions (blocked surface, unrolled method);
				// another endpoint may still serve the request.
				lastErr = errs.NewAPIError(resp.StatusCode, truncate(errBody, 500))
				utils.Warn("[Dispatch] Upstream %d from %s, trying next endpoint", resp.StatusCode, endpoint)
				break endpointLoop

			case resp.StatusCode >= 500:
				lastErr = errs.NewAPIError(resp.StatusCode, truncate(errBody, 500))
				utils.Warn("[Dispatch] Upstream %d from %s, trying next endpoint", resp.StatusCode, endpoint)
				if err := utils.Sleep(ctx, d.cfg.Dispatch.ServerErrorRetryDelayMs); err != nil {
					return nil, err
				}
				break endpointLoop

			default:
				// Remaining 4xx reflect the request itself; surface verbatim.
				return nil, errs.NewAPIError(resp.StatusCode, errBody)
			}
		}
	}

	if lastErr == nil {
		lastErr = errs.NewAPIError(http.StatusBadGateway, "all endpoints failed")
	}
	return nil, lastErr
}

// post issues one upstream request against the given endpoint.
func (d *Dispatcher) post(ctx context.Context, endpoint, token string, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, generateURL(endpoint, stream), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	BuildHeaders(req, token, stream)
	return d.client.Do(req)
}

// readErrorBody drains and closes a non-200 response body.
func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return "status " + strconv.Itoa(resp.StatusCode)
	}
	return strings.TrimSpace(string(data))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
