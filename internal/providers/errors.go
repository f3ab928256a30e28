package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoCredentials is returned when the aggregator key pool is empty.
	ErrNoCredentials = errors.New("no API keys found. Set OPENROUTER_API_KEYS or OPENROUTER_API_KEY_1")
	// ErrNotConfigured is returned by a provider whose credentials are missing.
	ErrNotConfigured = errors.New("provider not configured")
)

// Attempt is the diagnostic of one upstream try. Status is 0 for network failures.
type Attempt struct {
	Credential int    `json:"credential"`
	Attempt    int    `json:"attempt"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
}

// RateLimited reports whether the upstream answered 429.
func (a Attempt) RateLimited() bool {
	return a.Status == http.StatusTooManyRequests
}

func (a Attempt) String() string {
	if a.Status == 0 {
		return fmt.Sprintf("key %d attempt %d -> network error: %s", a.Credential, a.Attempt, a.Detail)
	}
	return fmt.Sprintf("key %d attempt %d -> %d : %s", a.Credential, a.Attempt, a.Status, a.Detail)
}

func joinAttempts(attempts []Attempt) string {
	lines := make([]string, len(attempts))
	for i, a := range attempts {
		lines[i] = a.String()
	}
	return strings.Join(lines, " | ")
}

// ExhaustedError reports that no credential produced a usable response.
type ExhaustedError struct {
	Model     string
	Attempts  []Attempt
	LastError string
}

func (e *ExhaustedError) Error() string {
	prefix := "all keys failed"
	if e.Model != "" {
		prefix = fmt.Sprintf("all keys failed for model %s", e.Model)
	}
	return fmt.Sprintf("%s. Last error: %s. Attempts: %s", prefix, e.LastError, joinAttempts(e.Attempts))
}

// HasRateLimit reports whether any attempt was rate limited.
func (e *ExhaustedError) HasRateLimit() bool {
	for _, a := range e.Attempts {
		if a.RateLimited() {
			return true
		}
	}
	return false
}

// RateLimitExhaustedError reports that every attempt was rate limited.
type RateLimitExhaustedError struct {
	Models   []string
	Attempts []Attempt
}

func (e *RateLimitExhaustedError) Error() string {
	if len(e.Models) > 1 {
		return fmt.Sprintf("all models/keys hit external 429 rate limits (models: %s). Attempts: %s",
			strings.Join(e.Models, ", "), joinAttempts(e.Attempts))
	}
	return fmt.Sprintf("rate limited across all keys. Attempts: %s", joinAttempts(e.Attempts))
}

// MalformedResponseError is a 200 response whose body is not valid JSON.
type MalformedResponseError struct {
	Provider string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s response not valid JSON (200): %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// StatusError is a non-success HTTP status from a single-endpoint provider.
type StatusError struct {
	Provider string
	Status   int
	Snippet  string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s HTTP %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.Provider, e.Status, e.Snippet)
}

// IsRateLimitExhausted reports whether err is a pure rate limit exhaustion.
func IsRateLimitExhausted(err error) bool {
	var rl *RateLimitExhaustedError
	return errors.As(err, &rl)
}

// HasRateLimitSignal reports whether err carries any 429 attempt.
func HasRateLimitSignal(err error) bool {
	if IsRateLimitExhausted(err) {
		return true
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.HasRateLimit()
	}
	return false
}

// AttemptsOf returns the attempt diagnostics carried by err, if any.
func AttemptsOf(err error) []Attempt {
	var rl *RateLimitExhaustedError
	if errors.As(err, &rl) {
		return rl.Attempts
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return nil
}

// Snippet shortens a response body for diagnostics.
func Snippet(body []byte, max int) string {
	s := strings.ReplaceAll(string(body), "\n", " ")
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

// MaskKey hides all but the first characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}
