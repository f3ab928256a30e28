// Package anthropic is the last direct vendor fallback, calling the Claude
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/normalize"
	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const (
	DefaultModel   = "claude-3-5-haiku-latest"
	DefaultTimeout = 30 * time.Second
	maxTokens      = 1024
)

// AnthropicProvider answers prompts with Claude.
type AnthropicProvider struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.Timeout),
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Kind() types.ProviderKind { return types.KindDirect }

func (p *AnthropicProvider) Configured() bool { return p.config.APIKey != "" }

// Generate sends the prompt as a single user turn. Image references are not
// forwarded.
func (p *AnthropicProvider) Generate(ctx context.Context, req types.PromptRequest, task types.TaskCategory) (*types.NormalizedResponse, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("anthropic: %w", providers.ErrNotConfigured)
	}

	resp, err := p.client.Messages.New(ctx, p.convertToAnthropicRequest(req))
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"model": p.config.Model,
		}).WithError(err).Debug("Anthropic API call failed")
		return nil, fmt.Errorf("anthropic api call failed: %w", err)
	}

	return p.convertFromAnthropicResponse(resp, task), nil
}

func (p *AnthropicProvider) convertToAnthropicRequest(req types.PromptRequest) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model: anthropic.Model(p.config.Model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
}

func (p *AnthropicProvider) convertFromAnthropicResponse(resp *anthropic.Message, task types.TaskCategory) *types.NormalizedResponse {
	var textContent []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			textContent = append(textContent, block.Text)
		}
	}

	text := normalize.NoTextParts
	if len(textContent) > 0 {
		text = normalize.MessageText(strings.Join(textContent, "\n"))
	}

	raw := json.RawMessage(resp.RawJSON())
	if !json.Valid(raw) {
		raw = json.RawMessage(`{}`)
	}

	model := string(resp.Model)
	if model == "" {
		model = p.config.Model
	}

	return &types.NormalizedResponse{
		Model:         "anthropic/" + model,
		TaskType:      task,
		AssistantText: text,
		Raw:           raw,
	}
}
