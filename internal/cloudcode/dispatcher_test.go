package cloudcode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/cloudcode-relay/internal/account/strategies"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	errs "github.com/poemonsense/cloudcode-relay/internal/errors"
	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

const okResponseBody = `{"response":{"candidates":[{"content":{"parts":[{"text":"hello"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"cachedContentTokenCount":2}}}`

// fakeAccounts is a minimal in-memory pool for dispatcher tests. Selection
// walks the pool in order, skipping invalid and marked accounts.
type fakeAccounts struct {
	mu          sync.Mutex
	accounts    []*redis.Account
	marked      map[string]int64 // email|model -> durationMs
	invalid     map[string]string
	failStreak  map[string]int
	successes   int
	rateLimits  int
	tokenClears int
	quotaNotes  []string        // email|model
	unavailable map[string]bool // model -> pool exhausted
	waitMs      int64
}

func newFakeAccounts(emails ...string) *fakeAccounts {
	f := &fakeAccounts{
		marked:      make(map[string]int64),
		invalid:     make(map[string]string),
		failStreak:  make(map[string]int),
		unavailable: make(map[string]bool),
	}
	for _, email := range emails {
		f.accounts = append(f.accounts, &redis.Account{Email: email, Enabled: true, Source: "manual", APIKey: "tok-" + email})
	}
	return f
}

func (f *fakeAccounts) GetAccountCount() int { return len(f.accounts) }

func (f *fakeAccounts) SelectAccount(_ context.Context, model string) *strategies.SelectionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable[model] {
		return &strategies.SelectionResult{Index: -1, WaitMs: f.waitMs}
	}
	for i, acc := range f.accounts {
		if _, bad := f.invalid[acc.Email]; bad {
			continue
		}
		if _, limited := f.marked[acc.Email+"|"+model]; limited {
			continue
		}
		return &strategies.SelectionResult{Account: acc, Index: i}
	}
	return &strategies.SelectionResult{Index: -1, WaitMs: f.waitMs}
}

func (f *fakeAccounts) MarkRateLimited(_ context.Context, email, model string, durationMs int64) {
	f.mu.Lock()
	f.marked[email+"|"+model] = durationMs
	f.mu.Unlock()
}

func (f *fakeAccounts) ClearRateLimit(_ context.Context, email, model string) {
	f.mu.Lock()
	delete(f.marked, email+"|"+model)
	f.mu.Unlock()
}

func (f *fakeAccounts) MarkInvalid(_ context.Context, email, reason string) {
	f.mu.Lock()
	f.invalid[email] = reason
	f.mu.Unlock()
}

func (f *fakeAccounts) NoteQuotaExhausted(_ context.Context, email, model string) {
	f.mu.Lock()
	f.quotaNotes = append(f.quotaNotes, email+"|"+model)
	f.mu.Unlock()
}

func (f *fakeAccounts) GetMinWaitTimeMs(string) int64 { return f.waitMs }

func (f *fakeAccounts) NotifySuccess(_ context.Context, email, _ string) {
	f.mu.Lock()
	f.successes++
	f.failStreak[email] = 0
	f.mu.Unlock()
}

func (f *fakeAccounts) NotifyRateLimit(_ context.Context, _, _ string) {
	f.mu.Lock()
	f.rateLimits++
	f.mu.Unlock()
}

func (f *fakeAccounts) NotifyFailure(_ context.Context, email, _ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStreak[email]++
	return f.failStreak[email]
}

func (f *fakeAccounts) TokenFor(_ context.Context, acc *redis.Account) (string, error) {
	return "tok-" + acc.Email, nil
}

func (f *fakeAccounts) ProjectFor(context.Context, *redis.Account) (string, error) {
	return "test-project", nil
}

func (f *fakeAccounts) ClearTokenCache(_ context.Context, _ string) {
	f.mu.Lock()
	f.tokenClears++
	f.mu.Unlock()
}

func (f *fakeAccounts) ClearProjectCache(context.Context, string) {}

func (f *fakeAccounts) markedDuration(email, model string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.marked[email+"|"+model]
	return d, ok
}

func testConfig(endpoints ...string) *config.Config {
	cfg := config.Default()
	cfg.Dispatch.Endpoints = endpoints
	cfg.Dispatch.CapacityRetryDelayMs = 1
	cfg.Dispatch.ServerErrorRetryDelayMs = 1
	cfg.Dispatch.EmptyResponseBackoffMs = 1
	cfg.Dispatch.MaxWaitBeforeErrorMs = 50
	return cfg
}

func testRequest(model string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 100,
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}
}

func accountEmail(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer tok-"
	if len(auth) > len(prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func TestSendMessageSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 8, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.Equal(t, 1, fake.successes)
}

func TestSendMessageFailoverOnLongRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountEmail(r) == "a@test" {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limit exceeded"))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test", "b@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)

	dur, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	require.True(t, marked)
	assert.Equal(t, int64(60_000), dur)
	assert.Equal(t, 1, fake.rateLimits)
}

func TestSendMessageQuotaExhaustedRecordsSnapshot(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountEmail(r) == "a@test" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Quota exceeded for this model"}}`))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test", "b@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)

	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.True(t, marked)
	assert.Contains(t, fake.quotaNotes, "a@test|claude-sonnet-4-5")
}

func TestSendMessageShortRateLimitRetriesInPlace(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("throttled, retry in 50 ms"))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(2), calls.Load())

	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.False(t, marked, "in-place retry should not mark the account")
}

func TestSendMessageDedupSkipsInPlaceRetry(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountEmail(r) == "a@test" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("throttled, retry in 50 ms"))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test", "b@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	// Another request already burned the in-place retry for this model.
	d.state.RecordRetry("claude-sonnet-4-5")

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)

	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.True(t, marked, "dedup should mark and fail over immediately")
}

func TestSendMessagePermanentAuthFailover(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountEmail(r) == "a@test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test", "b@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Contains(t, fake.invalid, "a@test")
}

func TestSendMessageTransient401RefreshesToken(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Request had invalid authentication credentials."))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, 1, fake.tokenClears)
	assert.Empty(t, fake.invalid)
}

func TestSendMessageCapacityRetriesInPlace(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"status":"MODEL_CAPACITY_EXHAUSTED"}}`))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(3), calls.Load())

	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.False(t, marked, "capacity exhaustion is not the account's fault")
}

func TestSendMessageClientErrorReturnedVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid request"}}`))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test", "b@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	_, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.Error(t, err)

	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 0, fake.failStreak["a@test"], "client errors should not penalize accounts")
}

func TestSendMessageServerErrorWalksEndpoints(t *testing.T) {
	var primaryCalls atomic.Int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer healthy.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(broken.URL, healthy.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(1), primaryCalls.Load())
}

func TestSendMessageModelFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	fake.unavailable["gemini-2.5-flash"] = true
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("gemini-2.5-flash"))
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
}

func TestSendMessagePoolExhaustedWithoutFallback(t *testing.T) {
	fake := newFakeAccounts("a@test")
	fake.unavailable["claude-sonnet-4-5"] = true
	fake.waitMs = 600_000

	cfg := testConfig("http://unused.invalid")
	cfg.Dispatch.FallbackEnabled = false
	d := NewDispatcher(cfg, fake)
	defer d.Close()

	_, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.Error(t, err)

	var na *errs.NoAccountsError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, int64(600_000), na.WaitMs)
}

func TestSendMessageThinkingModelAccumulatesStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		writeSSE(w,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"pondering","thought":true,"thoughtSignature":"sig123"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"cachedContentTokenCount":2}}}`,
		)
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5-thinking"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "pondering", resp.Content[0].Thinking)
	assert.Equal(t, "sig123", resp.Content[0].Signature)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "hello", resp.Content[1].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 8, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestSendMessageForbiddenWalksEndpoints(t *testing.T) {
	var blockedCalls atomic.Int32
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blockedCalls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer blocked.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer healthy.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(blocked.URL, healthy.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(1), blockedCalls.Load())
}

func TestSendMessageSuccessClearsDedup(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	d.state.RecordRetry("claude-sonnet-4-5")
	require.True(t, d.state.ShouldSkipRetry("claude-sonnet-4-5"))

	_, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.False(t, d.state.ShouldSkipRetry("claude-sonnet-4-5"),
		"a successful request should drop the model's dedup entry")
}

func TestSendMessageUnknownResetRetriesInPlace(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	cfg := testConfig(upstream.URL)
	cfg.Dispatch.DefaultCooldownMs = 5
	d := NewDispatcher(cfg, fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(2), calls.Load(), "a 429 with no reset should still get one in-place retry")

	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.False(t, marked)
}

func TestSendMessageFallbackAfterRetriesExhausted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.Model == "gemini-2.5-pro" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("gemini-2.5-pro"))
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model,
		"retry exhaustion should fall back like pool exhaustion")
}

func TestSendMessageCapacityExhaustionMarksAccount(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"status":"MODEL_CAPACITY_EXHAUSTED"}}`))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	_, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.Error(t, err)

	assert.Equal(t, int32(4), calls.Load(), "initial call plus the capacity retries")
	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.True(t, marked, "exhausted capacity retries should sideline the pair")
}

func TestSendMessageEmptyResponseRetries(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"response":{"candidates":[]}}`))
			return
		}
		_, _ = w.Write([]byte(okResponseBody))
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	resp, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendMessageExtendedCooldownAfterFailureStreak(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	cfg := testConfig(upstream.URL)
	cfg.Dispatch.MaxRetries = 3
	d := NewDispatcher(cfg, fake)
	defer d.Close()

	_, err := d.SendMessage(context.Background(), testRequest("claude-sonnet-4-5"))
	require.Error(t, err)

	var mr *errs.MaxRetriesError
	require.ErrorAs(t, err, &mr)

	dur, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	require.True(t, marked, "failure streak should sideline the account")
	assert.Equal(t, cfg.Dispatch.ExtendedCooldownMs, dur)
}
