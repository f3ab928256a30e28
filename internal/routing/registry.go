package routing

import (
	"strings"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

// DefaultModel is used for unmapped tasks and the last aggregator retry.
const DefaultModel = "qwen/qwen-2.5-72b-instruct:free"

// PrimaryModelEnv names the environment override of each task's primary model.
var PrimaryModelEnv = map[types.TaskCategory]string{
	types.TaskCode:        "INTELLIHUB_MODEL_CODE",
	types.TaskImageReason: "INTELLIHUB_MODEL_IMAGE",
	types.TaskGeneral:     "INTELLIHUB_MODEL_GENERAL",
	types.TaskResearch:    "INTELLIHUB_MODEL_RESEARCH",
}

var builtinModels = map[types.TaskCategory][]string{
	types.TaskCode: {
		"google/gemini-1.5-flash-latest",
		"qwen/qwen-2.5-coder-32b-instruct:free",
		"qwen/qwen-2.5-72b-instruct:free",
	},
	types.TaskImageReason: {
		"google/gemini-1.5-pro-latest",
		"x-ai/grok-4-fast:free",
		"qwen/qwen-2.5-72b-instruct:free",
	},
	types.TaskGeneral: {
		"google/gemini-1.5-flash-latest",
		"qwen/qwen-2.5-72b-instruct:free",
		"qwen/qwen-2.5-coder-32b-instruct:free",
	},
	types.TaskResearch: {
		"google/gemini-1.5-pro-latest",
		"qwen/qwen-2.5-72b-instruct:free",
		"qwen/qwen-2.5-coder-32b-instruct:free",
	},
}

// ModelsConfig customizes the registry.
type ModelsConfig struct {
	Primary   map[types.TaskCategory]string   `yaml:"primary"`
	Fallbacks map[types.TaskCategory][]string `yaml:"fallbacks"`
	Default   string                          `yaml:"default"`
}

// Registry maps task categories to ordered model candidates. It is read-only
// after construction.
type Registry struct {
	candidates   map[types.TaskCategory][]string
	defaultModel string
}

// NewRegistry builds the registry from the built-in table. A configured primary
// replaces the first entry; configured fallbacks are appended.
func NewRegistry(cfg ModelsConfig) *Registry {
	r := &Registry{
		candidates:   make(map[types.TaskCategory][]string, len(builtinModels)),
		defaultModel: DefaultModel,
	}
	if d := strings.TrimSpace(cfg.Default); d != "" {
		r.defaultModel = d
	}

	for task, models := range builtinModels {
		list := append([]string(nil), models...)
		if primary := strings.TrimSpace(cfg.Primary[task]); primary != "" {
			list[0] = primary
		}
		r.candidates[task] = dedupe(append(list, cfg.Fallbacks[task]...))
	}
	return r
}

// CandidatesFor returns a fresh copy of the candidates for task.
func (r *Registry) CandidatesFor(task types.TaskCategory) []string {
	models, ok := r.candidates[task]
	if !ok || len(models) == 0 {
		return []string{r.defaultModel}
	}
	return append([]string(nil), models...)
}

// DefaultModel returns the global default model.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

func dedupe(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
