// Package gemini calls Google's Gemini generateContent API directly, walking a
// list of alternate model names when a model is not available to the account.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/normalize"
	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const (
	DefaultBaseURL         = "https://generativelanguage.googleapis.com"
	DefaultModel           = "gemini-2.5-flash"
	DefaultPreferredFamily = "gemini-2.5"

	requestTimeout  = 30 * time.Second
	imageTimeout    = 10 * time.Second
	listTimeout     = 15 * time.Second
	maxOutputTokens = 2048
	topP            = 0.95
	topK            = 40
	snippetLength   = 200
	maxBodyBytes    = 10 << 20
	defaultMimeType = "image/jpeg"
)

// alternates lists the models tried after the configured one, newest first.
var alternates = map[string][]string{
	"gemini-1.5-flash": {"gemini-2.5-flash", "gemini-flash-latest", "gemini-2.0-flash", "gemini-2.0-flash-001"},
	"gemini-1.5-pro":   {"gemini-2.5-pro", "gemini-pro-latest", "gemini-2.0-pro-exp"},
	"gemini-2.5-flash": {"gemini-flash-latest", "gemini-2.5-flash-lite", "gemini-2.0-flash"},
	"gemini-2.5-pro":   {"gemini-pro-latest", "gemini-2.5-flash"},
}

// Config holds Gemini settings.
type Config struct {
	APIKey          string `yaml:"api_key"`
	NewAPIKey       string `yaml:"new_api_key"`
	UseNewKey       bool   `yaml:"use_new_key"`
	Model           string `yaml:"model"`
	PreferredFamily string `yaml:"preferred_family"`
	BaseURL         string `yaml:"base_url"`
}

// ApplyModelOverride replaces the model with override, but only while the
// model is still one of the stock flash defaults.
func (c *Config) ApplyModelOverride(override string) {
	override = strings.TrimSpace(override)
	if override == "" {
		return
	}
	switch c.Model {
	case "", "gemini-1.5-flash", DefaultModel:
		c.Model = override
	}
}

// Candidates returns model followed by its known alternates.
func Candidates(model string) []string {
	out := []string{model}
	for _, alt := range alternates[model] {
		if alt != model {
			out = append(out, alt)
		}
	}
	return out
}

// Client is the Gemini direct provider.
type Client struct {
	config  *Config
	client  *http.Client
	logger  *logrus.Logger
	catalog *modelCatalog
}

// NewClient creates a Gemini client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.PreferredFamily == "" {
		config.PreferredFamily = DefaultPreferredFamily
	}

	return &Client{
		config:  config,
		client:  &http.Client{},
		logger:  logger,
		catalog: &modelCatalog{now: time.Now},
	}
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Kind() types.ProviderKind { return types.KindDirect }

func (c *Client) Configured() bool { return c.apiKey() != "" }

// apiKey prefers the new key when asked to, falling back to the primary one.
func (c *Client) apiKey() string {
	if c.config.UseNewKey && c.config.NewAPIKey != "" {
		return c.config.NewAPIKey
	}
	return c.config.APIKey
}

// Generate tries the configured model and its alternates in order. A 404 moves
// on to the next candidate; once the static list is spent after a 404, one model
// from the account's listing matching the preferred family is tried as well. A
// network error moves on, any other status stops.
func (c *Client) Generate(ctx context.Context, req types.PromptRequest, task types.TaskCategory) (*types.NormalizedResponse, error) {
	if c.apiKey() == "" {
		return nil, fmt.Errorf("gemini: %w", providers.ErrNotConfigured)
	}

	parts := []part{{Text: req.Prompt}}
	if req.HasImage() {
		image, err := c.fetchImage(ctx, req.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image for Gemini: %w", err)
		}
		parts = append(parts, part{InlineData: image})
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxOutputTokens,
			TopP:            topP,
			TopK:            topK,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gemini request: %w", err)
	}

	pass := &candidatePass{client: c, body: body, task: task}

	candidates := Candidates(c.config.Model)
	if resp, err := pass.run(ctx, candidates); resp != nil || err != nil {
		return resp, err
	}

	if pass.notFound && !pass.stopped {
		names := c.catalog.list(ctx, c.fetchModels)
		if extra := pickPreferred(names, c.config.PreferredFamily, candidates); extra != "" {
			candidates = append(candidates, extra)
			c.logger.WithFields(logrus.Fields{
				"model":  extra,
				"family": c.config.PreferredFamily,
			}).Debug("Trying discovered Gemini model")
			if resp, err := pass.run(ctx, []string{extra}); resp != nil || err != nil {
				return resp, err
			}
		}
	}

	return nil, fmt.Errorf("gemini API failed after trying models=%v last_error=%s. Set GEMINI_MODEL or GEMINI_PREFERRED_FAMILY to override",
		candidates, pass.lastError)
}

// candidatePass carries the state shared by the static and discovered phases.
type candidatePass struct {
	client    *Client
	body      []byte
	task      types.TaskCategory
	lastError string
	notFound  bool
	stopped   bool
}

// run tries each model in order. It returns a response on success, an error on a
// hard failure, and (nil, nil) when every model was skipped or the pass stopped.
func (p *candidatePass) run(ctx context.Context, models []string) (*types.NormalizedResponse, error) {
	for _, model := range models {
		status, respBody, err := p.client.post(ctx, model, p.body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gemini request cancelled: %w", ctx.Err())
			}
			p.lastError = fmt.Sprintf("Network error: %v", err)
			continue
		}

		p.client.logger.WithFields(logrus.Fields{
			"model":  model,
			"status": status,
		}).Debug("Gemini response")

		if status == http.StatusOK {
			if !json.Valid(respBody) {
				return nil, &providers.MalformedResponseError{Provider: "gemini", Err: fmt.Errorf("non-JSON body")}
			}
			return &types.NormalizedResponse{
				Model:         "gemini/" + model,
				TaskType:      p.task,
				AssistantText: normalize.GeminiText(respBody),
				Raw:           json.RawMessage(respBody),
			}, nil
		}

		p.lastError = fmt.Sprintf("HTTP %d", status)
		if snippet := providers.Snippet(respBody, snippetLength); snippet != "" {
			p.lastError = fmt.Sprintf("HTTP %d %s", status, snippet)
		}

		if status != http.StatusNotFound {
			p.stopped = true
			return nil, nil
		}
		p.notFound = true
	}
	return nil, nil
}

func (c *Client) post(ctx context.Context, model string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.config.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey())

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) fetchImage(ctx context.Context, imageURL string) (*inlineData, error) {
	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("image fetch returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	return &inlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
