package routing

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/providers/openrouter"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// fakeExecutor answers per model: an error from errs, otherwise a completion
// echoing the model.
type fakeExecutor struct {
	mu      sync.Mutex
	errs    map[string]error
	models   []string
	payloads []openrouter.ChatPayload
	retries  []types.RetryConfig
	keys     [][]string
}

func (f *fakeExecutor) Execute(ctx context.Context, payload openrouter.ChatPayload, keys []string, retry types.RetryConfig) (*openrouter.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, payload.Model)
	f.payloads = append(f.payloads, payload)
	f.retries = append(f.retries, retry)
	f.keys = append(f.keys, keys)

	if len(keys) == 0 {
		return nil, providers.ErrNoCredentials
	}
	if err, ok := f.errs[payload.Model]; ok {
		return nil, err
	}
	body := fmt.Sprintf(`{"model":%q,"choices":[{"message":{"role":"assistant","content":"answer from **%s**"}}]}`,
		payload.Model, payload.Model)
	return &openrouter.Completion{Body: []byte(body), Model: payload.Model, Credential: 1}, nil
}

func (f *fakeExecutor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

type fakeProvider struct {
	name       string
	kind       types.ProviderKind
	configured bool
	err        error

	mu    sync.Mutex
	reqs  []types.PromptRequest
	tasks []types.TaskCategory
}

func (f *fakeProvider) Name() string             { return f.name }
func (f *fakeProvider) Kind() types.ProviderKind { return f.kind }
func (f *fakeProvider) Configured() bool         { return f.configured }

func (f *fakeProvider) Generate(ctx context.Context, req types.PromptRequest, task types.TaskCategory) (*types.NormalizedResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &types.NormalizedResponse{
		Model:         f.name + "/model",
		TaskType:      task,
		AssistantText: "answer from " + f.name,
		Raw:           []byte(`{"provider":"` + f.name + `"}`),
	}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func rateLimited(model string) error {
	return &providers.RateLimitExhaustedError{
		Models:   []string{model},
		Attempts: []providers.Attempt{{Credential: 1, Attempt: 1, Status: http.StatusTooManyRequests, Detail: "slow down"}},
	}
}

func exhausted(model string, status int) error {
	return &providers.ExhaustedError{
		Model:     model,
		Attempts:  []providers.Attempt{{Credential: 1, Attempt: 1, Status: status, Detail: "upstream said no"}},
		LastError: fmt.Sprintf("HTTP %d with key 1", status),
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}
