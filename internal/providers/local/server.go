package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/providers/openai"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const defaultServerModel = "default"

// serverBackend talks to a self-hosted OpenAI-compatible server such as
// llama.cpp, vLLM or Ollama.
type serverBackend struct {
	config *openai.Config
	client *openai.Client
}

func newServerBackend(config *openai.Config, logger *logrus.Logger) *serverBackend {
	if config.Model == "" {
		config.Model = defaultServerModel
	}
	if config.Timeout == 0 {
		config.Timeout = commandTimeout
	}
	return &serverBackend{
		config: config,
		client: openai.NewClient(config, logger),
	}
}

func (b *serverBackend) model() string { return "local/openai:" + b.client.Model() }

func (b *serverBackend) raw() json.RawMessage {
	return mustJSON(map[string]string{"backend": "openai", "base_url": b.config.BaseURL, "model": b.client.Model()})
}

func (b *serverBackend) call(ctx context.Context, req types.PromptRequest) (string, error) {
	completion, err := b.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("local OpenAI-compatible server failed: %w", err)
	}
	return completion.Text, nil
}
