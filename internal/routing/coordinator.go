package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/providers/openrouter"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// Backoffs of the aggregator passes.
const (
	CoordinatorBackoff  = 5 * time.Second
	DefaultModelBackoff = 8 * time.Second
)

// Executor runs one payload against the credential pool.
type Executor interface {
	Execute(ctx context.Context, payload openrouter.ChatPayload, keys []string, retry types.RetryConfig) (*openrouter.Completion, error)
}

// Coordinator walks a model candidate list, moving to the next model only when
// the current one was rate limited.
type Coordinator struct {
	executor Executor
	logger   *logrus.Logger
}

// NewCoordinator creates a coordinator over executor.
func NewCoordinator(executor Executor, logger *logrus.Logger) *Coordinator {
	return &Coordinator{executor: executor, logger: logger}
}

// Dispatch returns the first successful completion and the model it was sent
// to. Each model gets a single attempt per key. A failure carrying a 429 moves on
// to the next model when there is more than one candidate; any other failure is
// returned as is.
func (c *Coordinator) Dispatch(ctx context.Context, models []string, payload openrouter.ChatPayload, keys []string) (*openrouter.Completion, string, error) {
	if len(models) == 0 {
		return nil, "", errors.New("no candidate models")
	}

	retry := types.RetryConfig{MaxRetriesPerKey: 1, BaseDelay: CoordinatorBackoff}

	var (
		attempts      []providers.Attempt
		lastError     error
		rateLimitOnly = true
	)

	for i, model := range models {
		completion, err := c.executor.Execute(ctx, payload.WithModel(model), keys, retry)
		if err == nil {
			return completion, model, nil
		}

		if !providers.HasRateLimitSignal(err) || len(models) == 1 {
			return nil, model, err
		}

		attempts = append(attempts, providers.AttemptsOf(err)...)
		if !providers.IsRateLimitExhausted(err) {
			rateLimitOnly = false
		}
		lastError = err

		c.logger.WithFields(logrus.Fields{
			"model":     model,
			"candidate": i + 1,
			"of":        len(models),
		}).Info("Model rate limited, rotating to next candidate")
	}

	if rateLimitOnly {
		return nil, "", &providers.RateLimitExhaustedError{Models: models, Attempts: attempts}
	}
	return nil, "", &providers.ExhaustedError{
		Model:     strings.Join(models, ", "),
		Attempts:  attempts,
		LastError: lastError.Error(),
	}
}
