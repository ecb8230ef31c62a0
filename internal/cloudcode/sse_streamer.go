package cloudcode

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"

	"github.com/poemonsense/cloudcode-relay/internal/format"
	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

// scanner buffer: upstream chunks can carry whole base64 images in one line.
const maxSSELineBytes = 1 << 20

// streamState tracks the translation of one upstream SSE body into
// Anthropic events: message framing, block transitions and usage.
type streamState struct {
	ctx    context.Context
	events chan<- *anthropic.SSEEvent
	model  string

	started    bool
	blockIndex int
	blockOpen  bool
	blockType  string
	usage      *format.UsageMetadata
	stopReason string
}

// relayUpstreamSSE converts an upstream SSE body into Anthropic events.
// Returns whether any content event was emitted; an un-emitted stream is an
// empty response and eligible for retry.
func relayUpstreamSSE(ctx context.Context, body io.Reader, model string, events chan<- *anthropic.SSEEvent) (bool, error) {
	st := &streamState{ctx: ctx, events: events, model: model, blockIndex: -1}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk format.GoogleResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if err := st.handleChunk(&chunk); err != nil {
			return st.started, err
		}
	}
	if err := scanner.Err(); err != nil {
		return st.started, err
	}

	if st.started {
		if err := st.finish(); err != nil {
			return true, err
		}
	}
	return st.started, nil
}

// accumulateSSE folds an upstream SSE body into a single response: adjacent
// text and thinking deltas are concatenated, tool calls kept as-is, the last
// usage and finish reason win.
func accumulateSSE(body io.Reader) (*format.GoogleResponse, error) {
	var (
		parts        []format.ResponsePart
		usage        *format.UsageMetadata
		finishReason string
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk format.GoogleResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if u := chunk.Usage(); u != nil {
			usage = u
		}
		if reason := chunkFinishReason(&chunk); reason != "" {
			finishReason = reason
		}
		for _, part := range chunkParts(&chunk) {
			parts = appendPart(parts, part)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &format.GoogleResponse{
		Candidates: []format.Candidate{{
			Content:      &format.CandidateContent{Parts: parts, Role: "model"},
			FinishReason: finishReason,
		}},
		UsageMetadata: usage,
	}, nil
}

// appendPart merges a delta into the accumulated parts, concatenating runs
// of the same text kind.
func appendPart(parts []format.ResponsePart, part format.ResponsePart) []format.ResponsePart {
	if part.FunctionCall == nil && part.Text != "" && len(parts) > 0 {
		last := &parts[len(parts)-1]
		if last.FunctionCall == nil && last.Thought == part.Thought {
			last.Text += part.Text
			if part.ThoughtSignature != "" {
				last.ThoughtSignature = part.ThoughtSignature
			}
			return parts
		}
	}
	return append(parts, part)
}

func (st *streamState) handleChunk(chunk *format.GoogleResponse) error {
	if u := chunk.Usage(); u != nil {
		st.usage = u
	}

	for _, part := range chunkParts(chunk) {
		switch {
		case part.FunctionCall != nil:
			if err := st.emitToolUse(part); err != nil {
				return err
			}
		case part.Thought && part.Text != "":
			if err := st.emitDelta("thinking", part.Text, part.ThoughtSignature); err != nil {
				return err
			}
		case part.Text != "":
			if err := st.emitDelta("text", part.Text, ""); err != nil {
				return err
			}
		}
	}

	if reason := chunkFinishReason(chunk); reason != "" {
		switch reason {
		case "MAX_TOKENS":
			st.stopReason = "max_tokens"
		case "TOOL_USE":
			st.stopReason = "tool_use"
		default:
			if st.stopReason == "" {
				st.stopReason = "end_turn"
			}
		}
	}
	return nil
}

func chunkParts(chunk *format.GoogleResponse) []format.ResponsePart {
	candidates := chunk.Candidates
	if chunk.Response != nil {
		candidates = chunk.Response.Candidates
	}
	if len(candidates) == 0 || candidates[0].Content == nil {
		return nil
	}
	return candidates[0].Content.Parts
}

func chunkFinishReason(chunk *format.GoogleResponse) string {
	candidates := chunk.Candidates
	if chunk.Response != nil {
		candidates = chunk.Response.Candidates
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].FinishReason
}

// send delivers an event unless the client has gone away.
func (st *streamState) send(ev *anthropic.SSEEvent) error {
	select {
	case st.events <- ev:
		return nil
	case <-st.ctx.Done():
		return st.ctx.Err()
	}
}

func (st *streamState) ensureStarted() error {
	if st.started {
		return nil
	}
	st.started = true
	return st.send(&anthropic.SSEEvent{
		Type: "message_start",
		Data: map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":            "msg_" + streamHex(16),
				"type":          "message",
				"role":          "assistant",
				"model":         st.model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		},
	})
}

// openBlock starts a new content block, closing any open one.
func (st *streamState) openBlock(blockType string, block map[string]interface{}) error {
	if err := st.closeBlock(); err != nil {
		return err
	}
	st.blockIndex++
	st.blockOpen = true
	st.blockType = blockType
	return st.send(&anthropic.SSEEvent{
		Type: "content_block_start",
		Data: map[string]interface{}{
			"type":          "content_block_start",
			"index":         st.blockIndex,
			"content_block": block,
		},
	})
}

func (st *streamState) closeBlock() error {
	if !st.blockOpen {
		return nil
	}
	st.blockOpen = false
	return st.send(&anthropic.SSEEvent{
		Type: "content_block_stop",
		Data: map[string]interface{}{
			"type":  "content_block_stop",
			"index": st.blockIndex,
		},
	})
}

func (st *streamState) emitDelta(blockType, text, signature string) error {
	if err := st.ensureStarted(); err != nil {
		return err
	}
	if !st.blockOpen || st.blockType != blockType {
		block := map[string]interface{}{"type": blockType}
		if blockType == "text" {
			block["text"] = ""
		} else {
			block["thinking"] = ""
		}
		if err := st.openBlock(blockType, block); err != nil {
			return err
		}
	}

	delta := map[string]interface{}{}
	if blockType == "text" {
		delta["type"] = "text_delta"
		delta["text"] = text
	} else {
		delta["type"] = "thinking_delta"
		delta["thinking"] = text
	}
	if err := st.send(&anthropic.SSEEvent{
		Type: "content_block_delta",
		Data: map[string]interface{}{
			"type":  "content_block_delta",
			"index": st.blockIndex,
			"delta": delta,
		},
	}); err != nil {
		return err
	}

	if blockType == "thinking" && signature != "" {
		return st.send(&anthropic.SSEEvent{
			Type: "content_block_delta",
			Data: map[string]interface{}{
				"type":  "content_block_delta",
				"index": st.blockIndex,
				"delta": map[string]interface{}{
					"type":      "signature_delta",
					"signature": signature,
				},
			},
		})
	}
	return nil
}

func (st *streamState) emitToolUse(part format.ResponsePart) error {
	if err := st.ensureStarted(); err != nil {
		return err
	}
	toolID := part.FunctionCall.ID
	if toolID == "" {
		toolID = "toolu_" + streamHex(12)
	}
	if err := st.openBlock("tool_use", map[string]interface{}{
		"type":  "tool_use",
		"id":    toolID,
		"name":  part.FunctionCall.Name,
		"input": map[string]interface{}{},
	}); err != nil {
		return err
	}

	args := "{}"
	if part.FunctionCall.Args != nil {
		if b, err := json.Marshal(part.FunctionCall.Args); err == nil {
			args = string(b)
		}
	}
	if err := st.send(&anthropic.SSEEvent{
		Type: "content_block_delta",
		Data: map[string]interface{}{
			"type":  "content_block_delta",
			"index": st.blockIndex,
			"delta": map[string]interface{}{
				"type":         "input_json_delta",
				"partial_json": args,
			},
		},
	}); err != nil {
		return err
	}
	st.stopReason = "tool_use"
	return st.closeBlock()
}

func (st *streamState) finish() error {
	if err := st.closeBlock(); err != nil {
		return err
	}
	stopReason := st.stopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}

	usage := map[string]int{"output_tokens": 0}
	if st.usage != nil {
		usage["input_tokens"] = st.usage.PromptTokenCount - st.usage.CachedContentTokenCount
		usage["output_tokens"] = st.usage.CandidatesTokenCount
	}

	if err := st.send(&anthropic.SSEEvent{
		Type: "message_delta",
		Data: map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]interface{}{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			"usage": usage,
		},
	}); err != nil {
		return err
	}
	return st.send(&anthropic.SSEEvent{
		Type: "message_stop",
		Data: map[string]interface{}{"type": "message_stop"},
	})
}

func streamHex(byteLength int) string {
	b := make([]byte, byteLength)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
