package format

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

// GoogleResponse is a Cloud Code response. The v1internal surface wraps the
// generate response in an outer "response" object; direct candidates also
// appear in the wild, so both are accepted.
type GoogleResponse struct {
	Response      *GoogleResponseInner `json:"response,omitempty"`
	Candidates    []Candidate          `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata       `json:"usageMetadata,omitempty"`
}

// GoogleResponseInner is the wrapped response body.
type GoogleResponseInner struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one response candidate.
type Candidate struct {
	Content      *CandidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

// CandidateContent holds candidate parts.
type CandidateContent struct {
	Parts []ResponsePart `json:"parts,omitempty"`
	Role  string         `json:"role,omitempty"`
}

// ResponsePart is one part of a candidate.
type ResponsePart struct {
	Text             string        `json:"text,omitempty"`
	Thought          bool          `json:"thought,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall `json:"functionCall,omitempty"`
	InlineData       *InlineData   `json:"inlineData,omitempty"`
}

// UsageMetadata is the upstream token accounting.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// unwrap returns the candidates and usage regardless of wrapping.
func (r *GoogleResponse) unwrap() ([]Candidate, *UsageMetadata) {
	if r.Response != nil {
		return r.Response.Candidates, r.Response.UsageMetadata
	}
	return r.Candidates, r.UsageMetadata
}

// Usage returns the response's usage metadata, nil-safe.
func (r *GoogleResponse) Usage() *UsageMetadata {
	_, usage := r.unwrap()
	return usage
}

// ConvertResponse converts a Cloud Code response to the Anthropic shape.
func ConvertResponse(resp *GoogleResponse, model string) *anthropic.MessagesResponse {
	candidates, usage := resp.unwrap()

	var parts []ResponsePart
	finishReason := ""
	if len(candidates) > 0 {
		finishReason = candidates[0].FinishReason
		if candidates[0].Content != nil {
			parts = candidates[0].Content.Parts
		}
	}

	content := make([]anthropic.ContentBlock, 0, len(parts))
	hasToolCalls := false

	for _, part := range parts {
		switch {
		case part.FunctionCall != nil:
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = "toolu_" + randomHex(12)
			}
			input := json.RawMessage("{}")
			if part.FunctionCall.Args != nil {
				input, _ = json.Marshal(part.FunctionCall.Args)
			}
			content = append(content, anthropic.ContentBlock{
				Type:  "tool_use",
				ID:    toolID,
				Name:  part.FunctionCall.Name,
				Input: input,
			})
			hasToolCalls = true
		case part.Thought && part.Text != "":
			content = append(content, anthropic.ContentBlock{
				Type:      "thinking",
				Thinking:  part.Text,
				Signature: part.ThoughtSignature,
			})
		case part.Text != "":
			content = append(content, anthropic.ContentBlock{Type: "text", Text: part.Text})
		}
	}

	stopReason := "end_turn"
	switch {
	case finishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	case finishReason == "TOOL_USE" || hasToolCalls:
		stopReason = "tool_use"
	}

	var inputTokens, outputTokens int
	if usage != nil {
		// promptTokenCount includes cached content; Anthropic input_tokens
		// does not.
		inputTokens = usage.PromptTokenCount - usage.CachedContentTokenCount
		outputTokens = usage.CandidatesTokenCount
	}

	if len(content) == 0 {
		content = append(content, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	return &anthropic.MessagesResponse{
		ID:         "msg_" + randomHex(16),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: stopReason,
		Usage: anthropic.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		},
	}
}

// IsEmpty reports whether the response carries no usable parts.
func (r *GoogleResponse) IsEmpty() bool {
	candidates, _ := r.unwrap()
	for _, c := range candidates {
		if c.Content != nil && len(c.Content.Parts) > 0 {
			return false
		}
	}
	return true
}

func randomHex(byteLength int) string {
	b := make([]byte, byteLength)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
