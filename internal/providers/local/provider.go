// Package local runs prompts against a model hosted by the operator: an HTTP
// endpoint, a shell command, or an OpenAI-compatible inference server.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/normalize"
	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/providers/openai"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// ErrNoBackend is returned when none of the local backends is configured.
var ErrNoBackend = errors.New("no local LLM backend detected. Set LOCAL_LLM_ENDPOINT, LOCAL_LLM_CMD or LOCAL_LLM_OPENAI_BASE_URL")

// Config selects the local backend. The first configured one wins, in field order.
type Config struct {
	Endpoint    string        `yaml:"endpoint"`
	EndpointKey string        `yaml:"endpoint_key"`
	Command     string        `yaml:"command"`
	OpenAI      openai.Config `yaml:"openai"`
}

type backend interface {
	model() string
	raw() json.RawMessage
	call(ctx context.Context, req types.PromptRequest) (string, error)
}

// Provider is the local fallback stage of the chain.
type Provider struct {
	backend backend
	logger  *logrus.Logger
}

// NewProvider picks the backend from config.
func NewProvider(config *Config, logger *logrus.Logger) *Provider {
	p := &Provider{logger: logger}

	switch {
	case config.Endpoint != "":
		p.backend = newEndpointBackend(config.Endpoint, config.EndpointKey)
	case strings.TrimSpace(config.Command) != "":
		p.backend = &commandBackend{command: config.Command}
	case config.OpenAI.BaseURL != "":
		p.backend = newServerBackend(&config.OpenAI, logger)
	}
	return p
}

func (p *Provider) Name() string { return "local" }

func (p *Provider) Kind() types.ProviderKind { return types.KindLocal }

func (p *Provider) Configured() bool { return p.backend != nil }

func (p *Provider) Generate(ctx context.Context, req types.PromptRequest, task types.TaskCategory) (*types.NormalizedResponse, error) {
	if p.backend == nil {
		return nil, fmt.Errorf("local: %w: %w", providers.ErrNotConfigured, ErrNoBackend)
	}

	text, err := p.backend.call(ctx, req)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"model": p.backend.model(),
		}).WithError(err).Debug("Local backend failed")
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = normalize.EmptyContent
	}

	return &types.NormalizedResponse{
		Model:         p.backend.model(),
		TaskType:      task,
		AssistantText: text,
		Raw:           p.backend.raw(),
	}, nil
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
