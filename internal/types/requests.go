package types

import (
	"time"
)

// TaskCategory tags a prompt with the kind of work it asks for.
type TaskCategory string

const (
	TaskResearch    TaskCategory = "research"
	TaskCode        TaskCategory = "code"
	TaskImageReason TaskCategory = "image_reason"
	TaskGeneral     TaskCategory = "general"
)

// DefaultTemperature is used when the caller does not supply one.
const DefaultTemperature = 0.7

// PromptRequest is the immutable input of a single dispatch.
type PromptRequest struct {
	Prompt      string  `json:"prompt"`
	ImageURL    string  `json:"image_url,omitempty"`
	Temperature float64 `json:"temperature"`
}

// HasImage reports whether an image reference accompanies the prompt.
func (r PromptRequest) HasImage() bool {
	return r.ImageURL != ""
}

// WithTemperature returns a copy of the request using the given temperature.
func (r PromptRequest) WithTemperature(t float64) PromptRequest {
	r.Temperature = t
	return r
}

// GenerateRequest is the HTTP body accepted by the generate endpoints.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURL    string   `json:"image_url,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ToPromptRequest fills in defaults.
func (g GenerateRequest) ToPromptRequest() PromptRequest {
	temperature := DefaultTemperature
	if g.Temperature != nil {
		temperature = *g.Temperature
	}
	return PromptRequest{
		Prompt:      g.Prompt,
		ImageURL:    g.ImageURL,
		Temperature: temperature,
	}
}

// RetryConfig controls one pass of the key rotator.
type RetryConfig struct {
	MaxRetriesPerKey int           `json:"max_retries_per_key" yaml:"max_retries_per_key"`
	BaseDelay        time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay" yaml:"max_delay"`
}
