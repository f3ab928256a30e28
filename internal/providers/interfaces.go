package providers

import (
	"context"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

// Provider is one upstream backend that can answer a prompt with a normalized response.
type Provider interface {
	Name() string
	Kind() types.ProviderKind
	// Configured reports whether the credentials or endpoint the provider needs are present.
	Configured() bool
	Generate(ctx context.Context, req types.PromptRequest, task types.TaskCategory) (*types.NormalizedResponse, error)
}

// Status summarizes a provider for the health endpoints.
func Status(p Provider) types.ProviderStatus {
	return types.ProviderStatus{
		Name:       p.Name(),
		Kind:       p.Kind(),
		Configured: p.Configured(),
	}
}
