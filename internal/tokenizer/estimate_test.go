package tokenizer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

func TestEstimateTokensPlainString(t *testing.T) {
	text := strings.Repeat("a", 400)
	req := &anthropic.CountTokensRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"` + text + `"`)},
		},
	}
	got := EstimateTokens(req)
	// 400 chars -> 100 tokens, plus base and message overhead
	if got != 100+3+3 {
		t.Fatalf("got %d, want 106", got)
	}
}

func TestEstimateTokensContentBlocks(t *testing.T) {
	req := &anthropic.CountTokensRequest{
		Model:  "claude-sonnet-4-5",
		System: json.RawMessage(`"` + strings.Repeat("s", 40) + `"`),
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"` + strings.Repeat("x", 80) + `"}]`)},
		},
	}
	got := EstimateTokens(req)
	// (40+80)/4 = 30 tokens of text
	if got != 30+3+3 {
		t.Fatalf("got %d, want 36", got)
	}
}

func TestEstimateTokensToolOverhead(t *testing.T) {
	base := &anthropic.CountTokensRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}
	withTool := &anthropic.CountTokensRequest{
		Model:    base.Model,
		Messages: base.Messages,
		Tools: []anthropic.Tool{
			{Name: "get_weather", Description: "Look up weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
	if EstimateTokens(withTool) <= EstimateTokens(base) {
		t.Fatal("tools should add to the estimate")
	}
}

func TestEstimateTokensNeverZero(t *testing.T) {
	req := &anthropic.CountTokensRequest{Model: "claude-sonnet-4-5"}
	if got := EstimateTokens(req); got < 1 {
		t.Fatalf("got %d, want >= 1", got)
	}
}
