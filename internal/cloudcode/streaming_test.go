package cloudcode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, chunk := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
	}
}

func collectStream(t *testing.T, events <-chan *anthropic.SSEEvent, errCh <-chan error) ([]*anthropic.SSEEvent, error) {
	t.Helper()
	var out []*anthropic.SSEEvent
	for ev := range events {
		out = append(out, ev)
	}
	select {
	case err := <-errCh:
		return out, err
	default:
		return out, nil
	}
}

func eventTypes(events []*anthropic.SSEEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func streamedText(events []*anthropic.SSEEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type != "content_block_delta" {
			continue
		}
		data := ev.Data.(map[string]interface{})
		delta := data["delta"].(map[string]interface{})
		if delta["type"] == "text_delta" {
			b.WriteString(delta["text"].(string))
		}
	}
	return b.String()
}

func TestSendMessageStreamSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		writeSSE(w,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}}`,
		)
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	events, errCh := d.SendMessageStream(context.Background(), testRequest("claude-sonnet-4-5"))
	got, err := collectStream(t, events, errCh)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventTypes(got))
	assert.Equal(t, "Hello", streamedText(got))
	assert.Equal(t, 1, fake.successes)
}

func TestSendMessageStreamToolUse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Berlin"}}}]},"finishReason":"STOP"}]}}`,
		)
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	events, errCh := d.SendMessageStream(context.Background(), testRequest("claude-sonnet-4-5"))
	got, err := collectStream(t, events, errCh)
	require.NoError(t, err)

	var startBlock map[string]interface{}
	var partialJSON string
	var stopReason string
	for _, ev := range got {
		data := ev.Data.(map[string]interface{})
		switch ev.Type {
		case "content_block_start":
			startBlock = data["content_block"].(map[string]interface{})
		case "content_block_delta":
			delta := data["delta"].(map[string]interface{})
			if delta["type"] == "input_json_delta" {
				partialJSON = delta["partial_json"].(string)
			}
		case "message_delta":
			stopReason = data["delta"].(map[string]interface{})["stop_reason"].(string)
		}
	}

	require.NotNil(t, startBlock)
	assert.Equal(t, "tool_use", startBlock["type"])
	assert.Equal(t, "get_weather", startBlock["name"])
	assert.JSONEq(t, `{"city":"Berlin"}`, partialJSON)
	assert.Equal(t, "tool_use", stopReason)
}

func TestSendMessageStreamThinking(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"pondering","thought":true,"thoughtSignature":"sig123"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"answer"}]},"finishReason":"STOP"}]}}`,
		)
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	events, errCh := d.SendMessageStream(context.Background(), testRequest("claude-sonnet-4-5"))
	got, err := collectStream(t, events, errCh)
	require.NoError(t, err)

	// thinking block, then a separate text block
	var blockTypes []string
	sawSignature := false
	for _, ev := range got {
		data := ev.Data.(map[string]interface{})
		switch ev.Type {
		case "content_block_start":
			block := data["content_block"].(map[string]interface{})
			blockTypes = append(blockTypes, block["type"].(string))
		case "content_block_delta":
			delta := data["delta"].(map[string]interface{})
			if delta["type"] == "signature_delta" {
				sawSignature = true
				assert.Equal(t, "sig123", delta["signature"])
			}
		}
	}
	assert.Equal(t, []string{"thinking", "text"}, blockTypes)
	assert.True(t, sawSignature)
	assert.Equal(t, "answer", streamedText(got))
}

func TestSendMessageStreamEmptyFallback(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeSSE(w) // 200 with no content
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test")
	cfg := testConfig(upstream.URL)
	cfg.Dispatch.MaxEmptyResponseRetries = 1
	d := NewDispatcher(cfg, fake)
	defer d.Close()

	events, errCh := d.SendMessageStream(context.Background(), testRequest("claude-sonnet-4-5"))
	got, err := collectStream(t, events, errCh)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load(), "initial attempt plus one retry")
	assert.Equal(t, syntheticFallbackText, streamedText(got))
	require.NotEmpty(t, got)
	assert.Equal(t, "message_start", got[0].Type)
	assert.Equal(t, "message_stop", got[len(got)-1].Type)
}

func TestSendMessageStreamRateLimitFailsOver(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountEmail(r) == "a@test" {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limit exceeded"))
			return
		}
		writeSSE(w,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"from b"}]},"finishReason":"STOP"}]}}`,
		)
	}))
	defer upstream.Close()

	fake := newFakeAccounts("a@test", "b@test")
	d := NewDispatcher(testConfig(upstream.URL), fake)
	defer d.Close()

	events, errCh := d.SendMessageStream(context.Background(), testRequest("claude-sonnet-4-5"))
	got, err := collectStream(t, events, errCh)
	require.NoError(t, err)

	assert.Equal(t, "from b", streamedText(got))
	_, marked := fake.markedDuration("a@test", "claude-sonnet-4-5")
	assert.True(t, marked)
}
