// Package format converts between the Anthropic Messages API shapes and the
// Google Generative AI shapes Cloud Code speaks.
package format

import (
	"encoding/json"

	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

// GoogleRequest is a request in Google Generative AI format.
type GoogleRequest struct {
	Contents          []GoogleContent   `json:"contents"`
	SystemInstruction *GoogleContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []GoogleTool      `json:"tools,omitempty"`
}

// GoogleContent is one turn of content.
type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

// GooglePart is one part of a turn.
type GooglePart struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// InlineData carries base64 media.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FunctionCall is a model-initiated tool call.
type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

// FunctionResponse is the tool result fed back to the model.
type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// GenerationConfig mirrors the Anthropic sampling parameters.
type GenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GoogleTool wraps function declarations.
type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable tool.
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ConvertRequest converts an Anthropic messages request to Google format.
func ConvertRequest(req *anthropic.MessagesRequest) *GoogleRequest {
	out := &GoogleRequest{
		Contents: make([]GoogleContent, 0, len(req.Messages)),
		GenerationConfig: &GenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			StopSequences:   req.StopSequences,
		},
	}

	if parts := systemParts(req.System); len(parts) > 0 {
		out.SystemInstruction = &GoogleContent{Parts: parts}
	}

	// Track tool_use id -> name so tool results can name their function.
	toolNames := make(map[string]string)

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		parts := messageParts(msg.Content, toolNames)
		if len(parts) == 0 {
			continue
		}
		out.Contents = append(out.Contents, GoogleContent{Role: role, Parts: parts})
	}

	for _, tool := range req.Tools {
		var params map[string]interface{}
		_ = json.Unmarshal(tool.InputSchema, &params)
		decl := FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		}
		if len(out.Tools) == 0 {
			out.Tools = append(out.Tools, GoogleTool{})
		}
		out.Tools[0].FunctionDeclarations = append(out.Tools[0].FunctionDeclarations, decl)
	}

	return out
}

// systemParts flattens a system prompt (string or block array) into parts.
func systemParts(system json.RawMessage) []GooglePart {
	if len(system) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(system, &s); err == nil {
		if s == "" {
			return nil
		}
		return []GooglePart{{Text: s}}
	}
	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(system, &blocks); err != nil {
		return nil
	}
	parts := make([]GooglePart, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, GooglePart{Text: b.Text})
		}
	}
	return parts
}

// messageParts converts one message's content (string or block array).
func messageParts(content json.RawMessage, toolNames map[string]string) []GooglePart {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		if s == "" {
			return nil
		}
		return []GooglePart{{Text: s}}
	}

	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil
	}

	parts := make([]GooglePart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, GooglePart{Text: b.Text})
			}
		case "image", "document":
			if b.Source != nil && b.Source.Type == "base64" {
				parts = append(parts, GooglePart{InlineData: &InlineData{
					MimeType: b.Source.MediaType,
					Data:     b.Source.Data,
				}})
			}
		case "tool_use":
			var args map[string]interface{}
			_ = json.Unmarshal(b.Input, &args)
			toolNames[b.ID] = b.Name
			parts = append(parts, GooglePart{FunctionCall: &FunctionCall{
				Name: b.Name,
				Args: args,
				ID:   b.ID,
			}})
		case "tool_result":
			name := toolNames[b.ToolUseID]
			if name == "" {
				name = "tool"
			}
			parts = append(parts, GooglePart{FunctionResponse: &FunctionResponse{
				Name:     name,
				Response: map[string]interface{}{"result": toolResultText(b.Content)},
			}})
		}
	}
	return parts
}

// toolResultText flattens a tool_result content field to a string.
func toolResultText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return string(content)
	}
	out := ""
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// HasMedia reports whether any message carries image or document blocks.
// count_tokens uses this to decide between local estimation and an upstream
// probe.
func HasMedia(messages []anthropic.Message) bool {
	for _, msg := range messages {
		var blocks []anthropic.ContentBlock
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "image" || b.Type == "document" {
				return true
			}
		}
	}
	return false
}
