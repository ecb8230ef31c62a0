// Package tokenizer provides a local input-token estimate for requests that
// do not need an exact upstream count.
package tokenizer

import (
	"encoding/json"

	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

// Roughly four characters per token for mixed English/code input, plus the
// framing tokens each message and tool definition costs.
const (
	charsPerToken      = 4
	perMessageOverhead = 3
	perToolOverhead    = 8
	baseOverhead       = 3
)

// EstimateTokens approximates the input token count of a request.
func EstimateTokens(req *anthropic.CountTokensRequest) int {
	chars := rawTextLength(req.System)

	for _, msg := range req.Messages {
		chars += messageTextLength(msg.Content)
	}

	tokens := baseOverhead + chars/charsPerToken + len(req.Messages)*perMessageOverhead
	for _, tool := range req.Tools {
		tokens += perToolOverhead
		tokens += (len(tool.Name) + len(tool.Description) + len(tool.InputSchema)) / charsPerToken
	}
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// messageTextLength counts the characters of a message's content, which is
// either a plain string or an array of content blocks.
func messageTextLength(content json.RawMessage) int {
	if len(content) == 0 {
		return 0
	}

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return len(s)
	}

	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return len(content)
	}

	chars := 0
	for _, block := range blocks {
		switch block.Type {
		case "text":
			chars += len(block.Text)
		case "thinking":
			chars += len(block.Thinking)
		case "tool_use":
			chars += len(block.Name) + len(block.Input)
		case "tool_result":
			chars += len(block.Content)
		case "image", "document":
			// Media is priced by the upstream tokenizer, not by length;
			// callers with media should ask upstream instead.
			chars += 1000 * charsPerToken
		}
	}
	return chars
}

// rawTextLength counts the characters of a system prompt, which is either a
// string or an array of text blocks.
func rawTextLength(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return len(s)
	}
	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return len(raw)
	}
	chars := 0
	for _, block := range blocks {
		chars += len(block.Text)
	}
	return chars
}
