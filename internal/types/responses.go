package types

import (
	"encoding/json"
)

// NormalizedResponse is the single output shape every provider adapter produces.
type NormalizedResponse struct {
	Model         string          `json:"model"`
	TaskType      TaskCategory    `json:"task_type"`
	AssistantText string          `json:"assistant_text"`
	Raw           json.RawMessage `json:"raw"`

	// Cached is set on responses served from the response cache.
	Cached bool `json:"cached"`
}

// Clone returns a copy that does not share the raw payload buffer.
func (r *NormalizedResponse) Clone() *NormalizedResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.Raw != nil {
		out.Raw = append(json.RawMessage(nil), r.Raw...)
	}
	return &out
}

// GenerateResponse is the HTTP response for a completed dispatch.
type GenerateResponse struct {
	RequestID      string `json:"request_id"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	*NormalizedResponse
}

// ClassifyResponse describes how a prompt would be routed without dispatching it.
type ClassifyResponse struct {
	TaskType   TaskCategory `json:"task_type"`
	Candidates []string     `json:"candidates"`
	CacheKey   string       `json:"cache_key"`
}

// StreamEvent is one Server-Sent Event of the streaming generate endpoint.
type StreamEvent struct {
	Type     string       `json:"type"` // start, chunk, complete, error
	Text     string       `json:"text,omitempty"`
	Message  string       `json:"message,omitempty"`
	Model    string       `json:"model,omitempty"`
	TaskType TaskCategory `json:"task_type,omitempty"`
	Cached   bool         `json:"cached,omitempty"`
}

// ErrorResponse is the error envelope written by the HTTP layer.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Timestamp int64       `json:"timestamp"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}
