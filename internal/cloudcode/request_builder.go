package cloudcode

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/format"
)

// Payload is the v1internal request envelope.
type Payload struct {
	Project     string                `json:"project"`
	Model       string                `json:"model"`
	Request     *format.GoogleRequest `json:"request"`
	UserAgent   string                `json:"userAgent"`
	RequestType string                `json:"requestType"`
	RequestID   string                `json:"requestId"`
}

// BuildPayload wraps a converted request in the Cloud Code envelope with a
// fresh request ID.
func BuildPayload(project, model string, req *format.GoogleRequest) *Payload {
	return &Payload{
		Project:     project,
		Model:       model,
		Request:     req,
		UserAgent:   "antigravity",
		RequestType: "agent",
		RequestID:   "agent-" + uuid.New().String(),
	}
}

// BuildHeaders sets the auth and protocol headers on an upstream request.
func BuildHeaders(r *http.Request, accessToken string, stream bool) {
	for k, v := range config.CloudCodeHeaders() {
		r.Header.Set(k, v)
	}
	r.Header.Set("Authorization", "Bearer "+accessToken)
	if stream {
		r.Header.Set("Accept", "text/event-stream")
	} else {
		r.Header.Set("Accept", "application/json")
	}
}

// generateURL joins an endpoint base with the generate method.
func generateURL(endpoint string, stream bool) string {
	if stream {
		return endpoint + "/v1internal:streamGenerateContent?alt=sse"
	}
	return endpoint + "/v1internal:generateContent"
}
