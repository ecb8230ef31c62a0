package format

import (
	"encoding/json"
	"testing"

	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

func TestConvertRequestBasic(t *testing.T) {
	temp := 0.7
	req := &anthropic.MessagesRequest{
		Model:       "claude-sonnet-4-5",
		MaxTokens:   1024,
		Temperature: &temp,
		System:      json.RawMessage(`"be brief"`),
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
			{Role: "assistant", Content: json.RawMessage(`"hi there"`)},
		},
	}

	out := ConvertRequest(req)

	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatal("system instruction not converted")
	}
	if len(out.Contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(out.Contents))
	}
	if out.Contents[0].Role != "user" || out.Contents[1].Role != "model" {
		t.Errorf("roles = %q, %q", out.Contents[0].Role, out.Contents[1].Role)
	}
	if out.GenerationConfig.MaxOutputTokens != 1024 {
		t.Errorf("maxOutputTokens = %d", out.GenerationConfig.MaxOutputTokens)
	}
	if out.GenerationConfig.Temperature == nil || *out.GenerationConfig.Temperature != 0.7 {
		t.Error("temperature not carried over")
	}
}

func TestConvertRequestToolRoundTrip(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 100,
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"what's the weather?"`)},
			{Role: "assistant", Content: json.RawMessage(
				`[{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{"city":"Berlin"}}]`)},
			{Role: "user", Content: json.RawMessage(
				`[{"type":"tool_result","tool_use_id":"toolu_01","content":"sunny, 22C"}]`)},
		},
		Tools: []anthropic.Tool{
			{Name: "get_weather", Description: "Look up weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}

	out := ConvertRequest(req)

	call := out.Contents[1].Parts[0].FunctionCall
	if call == nil || call.Name != "get_weather" {
		t.Fatal("tool_use not converted to functionCall")
	}
	if call.Args["city"] != "Berlin" {
		t.Errorf("args = %v", call.Args)
	}

	resp := out.Contents[2].Parts[0].FunctionResponse
	if resp == nil {
		t.Fatal("tool_result not converted to functionResponse")
	}
	if resp.Name != "get_weather" {
		t.Errorf("functionResponse named %q, want the original tool name", resp.Name)
	}
	if resp.Response["result"] != "sunny, 22C" {
		t.Errorf("response = %v", resp.Response)
	}

	if len(out.Tools) != 1 || out.Tools[0].FunctionDeclarations[0].Name != "get_weather" {
		t.Error("tool declaration missing")
	}
}

func TestConvertRequestMedia(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 100,
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(
				`[{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aWcK"}}]`)},
		},
	}

	out := ConvertRequest(req)
	inline := out.Contents[0].Parts[0].InlineData
	if inline == nil || inline.MimeType != "image/png" || inline.Data != "aWcK" {
		t.Fatalf("inlineData = %+v", inline)
	}

	if !HasMedia(req.Messages) {
		t.Error("HasMedia should detect the image block")
	}
	textOnly := []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}
	if HasMedia(textOnly) {
		t.Error("HasMedia false positive on plain text")
	}
}

func TestConvertResponseText(t *testing.T) {
	var resp GoogleResponse
	body := `{"response":{"candidates":[{"content":{"parts":[{"text":"thinking...","thought":true,"thoughtSignature":"sig"},{"text":"answer"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":20,"candidatesTokenCount":7,"cachedContentTokenCount":5}}}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}

	out := ConvertResponse(&resp, "claude-sonnet-4-5")

	if len(out.Content) != 2 {
		t.Fatalf("got %d blocks, want 2", len(out.Content))
	}
	if out.Content[0].Type != "thinking" || out.Content[0].Signature != "sig" {
		t.Errorf("first block = %+v", out.Content[0])
	}
	if out.Content[1].Text != "answer" {
		t.Errorf("second block = %+v", out.Content[1])
	}
	if out.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", out.StopReason)
	}
	if out.Usage.InputTokens != 15 || out.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestConvertResponseToolUse(t *testing.T) {
	var resp GoogleResponse
	body := `{"candidates":[{"content":{"parts":[{"functionCall":{"name":"search","args":{"q":"go"}}}]},"finishReason":"STOP"}]}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}

	out := ConvertResponse(&resp, "claude-sonnet-4-5")

	if out.Content[0].Type != "tool_use" || out.Content[0].Name != "search" {
		t.Fatalf("block = %+v", out.Content[0])
	}
	if out.Content[0].ID == "" {
		t.Error("tool_use without upstream id should get a generated one")
	}
	if out.StopReason != "tool_use" {
		t.Errorf("stop reason = %q", out.StopReason)
	}
}

func TestConvertResponseEmpty(t *testing.T) {
	resp := &GoogleResponse{}
	if !resp.IsEmpty() {
		t.Fatal("empty response should report empty")
	}
	out := ConvertResponse(resp, "claude-sonnet-4-5")
	if len(out.Content) != 1 || out.Content[0].Type != "text" {
		t.Fatalf("empty response should yield one empty text block, got %+v", out.Content)
	}
}
