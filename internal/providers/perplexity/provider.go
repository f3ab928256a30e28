// Package perplexity answers research prompts through Perplexity's
// OpenAI-compatible chat API.
package perplexity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/providers/openai"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "sonar"
	requestTimeout = 35 * time.Second
)

// Config holds Perplexity settings. MaxTokens 0 leaves the model default.
type Config struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url"`
}

// Provider is the research stage of the chain.
type Provider struct {
	config *Config
	client *openai.Client
	logger *logrus.Logger
}

// NewProvider creates a Perplexity provider.
func NewProvider(config *Config, logger *logrus.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	return &Provider{
		config: config,
		client: openai.NewClient(&openai.Config{
			APIKey:    config.APIKey,
			BaseURL:   config.BaseURL,
			Model:     config.Model,
			MaxTokens: config.MaxTokens,
			Timeout:   requestTimeout,
		}, logger),
		logger: logger,
	}
}

func (p *Provider) Name() string { return "perplexity" }

func (p *Provider) Kind() types.ProviderKind { return types.KindResearch }

func (p *Provider) Configured() bool { return p.config.APIKey != "" }

// Generate sends the prompt text only; images are not forwarded. The response
// is always tagged as research.
func (p *Provider) Generate(ctx context.Context, req types.PromptRequest, _ types.TaskCategory) (*types.NormalizedResponse, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("perplexity: %w", providers.ErrNotConfigured)
	}

	req.ImageURL = ""
	completion, err := p.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("perplexity: %w", err)
	}

	return &types.NormalizedResponse{
		Model:         completion.Model,
		TaskType:      types.TaskResearch,
		AssistantText: completion.Text,
		Raw:           completion.Raw,
	}, nil
}
