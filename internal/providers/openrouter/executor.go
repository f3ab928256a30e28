// Package openrouter talks to the OpenRouter chat completion aggregator,
// rotating through a pool of API keys.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/metrics"
	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const (
	DefaultBaseURL    = "https://openrouter.ai/api/v1"
	DefaultTimeout    = 20 * time.Second
	DefaultMaxBackoff = 60 * time.Second

	snippetLength = 180
	maxBodyBytes  = 10 << 20
)

// Config holds aggregator settings.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKeys    []string      `yaml:"api_keys"`
	Referer    string        `yaml:"referer"`
	Title      string        `yaml:"title"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Completion is a successful aggregator response.
type Completion struct {
	Body       json.RawMessage
	Model      string
	Credential int
}

// Executor issues chat completions, retrying and rotating credentials.
type Executor struct {
	config  *Config
	client  *http.Client
	metrics *metrics.Sink
	logger  *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor recording into sink.
func NewExecutor(config *Config, sink *metrics.Sink, logger *logrus.Logger) *Executor {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}

	return &Executor{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: sink,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Execute sends payload with each key in order until one succeeds.
//
// Network failures and 429 responses retry the same key up to retry.MaxRetriesPerKey
// times; 401/403 and any other status move on to the next key. A 200 with a body
// that is not JSON fails immediately.
func (e *Executor) Execute(ctx context.Context, payload ChatPayload, keys []string, retry types.RetryConfig) (*Completion, error) {
	if len(keys) == 0 {
		return nil, providers.ErrNoCredentials
	}
	if retry.MaxRetriesPerKey < 1 {
		retry.MaxRetriesPerKey = 1
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = e.config.MaxBackoff
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var (
		attempts  []providers.Attempt
		lastError string
	)

nextKey:
	for keyIndex, key := range keys {
		credential := keyIndex + 1
		for attempt := 1; attempt <= retry.MaxRetriesPerKey; attempt++ {
			hasNext := attempt < retry.MaxRetriesPerKey
			e.metrics.RecordAttempt()

			status, respBody, err := e.post(ctx, key, body)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
				}
				lastError = fmt.Sprintf("Network error (key %d, attempt %d): %v", credential, attempt, err)
				attempts = append(attempts, providers.Attempt{
					Credential: credential,
					Attempt:    attempt,
					Detail:     err.Error(),
				})
				e.logger.WithFields(logrus.Fields{
					"model":      payload.Model,
					"credential": credential,
					"attempt":    attempt,
					"error":      err.Error(),
				}).Debug("Upstream network error")
				if hasNext {
					if err := e.sleep(ctx, retry.BaseDelay); err != nil {
						return nil, fmt.Errorf("request cancelled during retry backoff: %w", err)
					}
				}
				continue
			}

			attempts = append(attempts, providers.Attempt{
				Credential: credential,
				Attempt:    attempt,
				Status:     status,
				Detail:     providers.Snippet(respBody, snippetLength),
			})
			e.logger.WithFields(logrus.Fields{
				"model":      payload.Model,
				"credential": credential,
				"key":        providers.MaskKey(key),
				"attempt":    attempt,
				"status":     status,
			}).Debug("Upstream response")

			switch {
			case status == http.StatusOK:
				var meta struct {
					Model string `json:"model"`
				}
				if err := json.Unmarshal(respBody, &meta); err != nil {
					e.metrics.RecordError()
					return nil, &providers.MalformedResponseError{Provider: "openrouter", Err: err}
				}
				e.metrics.RecordSuccess(len(respBody))
				return &Completion{
					Body:       json.RawMessage(respBody),
					Model:      meta.Model,
					Credential: credential,
				}, nil

			case status == http.StatusUnauthorized || status == http.StatusForbidden:
				lastError = fmt.Sprintf("Auth error %d with key %d", status, credential)
				continue nextKey

			case status == http.StatusTooManyRequests:
				lastError = fmt.Sprintf("Rate limited (429) with key %d", credential)
				if hasNext {
					delay := calculateBackoffDelay(retry, attempt)
					e.logger.WithFields(logrus.Fields{
						"model":      payload.Model,
						"credential": credential,
						"delay":      delay,
					}).Debug("Rate limited, backing off")
					if err := e.sleep(ctx, delay); err != nil {
						return nil, fmt.Errorf("request cancelled during retry backoff: %w", err)
					}
				}
				continue

			default:
				lastError = fmt.Sprintf("HTTP %d with key %d", status, credential)
				continue nextKey
			}
		}
	}

	e.metrics.RecordError()

	if allRateLimited(attempts) {
		return nil, &providers.RateLimitExhaustedError{
			Models:   []string{payload.Model},
			Attempts: attempts,
		}
	}
	return nil, &providers.ExhaustedError{
		Model:     payload.Model,
		Attempts:  attempts,
		LastError: lastError,
	}
}

func (e *Executor) post(ctx context.Context, key string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if e.config.Referer != "" {
		req.Header.Set("HTTP-Referer", e.config.Referer)
	}
	if e.config.Title != "" {
		req.Header.Set("X-Title", e.config.Title)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	e.metrics.RecordLatency(time.Since(start))

	return resp.StatusCode, respBody, nil
}

// calculateBackoffDelay returns base * 2^(attempt-1), capped at MaxDelay.
func calculateBackoffDelay(retry types.RetryConfig, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(retry.BaseDelay) * multiplier)
	if retry.MaxDelay > 0 && delay > retry.MaxDelay {
		delay = retry.MaxDelay
	}
	return delay
}

func allRateLimited(attempts []providers.Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, a := range attempts {
		if !a.RateLimited() {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
