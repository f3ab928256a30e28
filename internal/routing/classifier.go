package routing

import (
	"strings"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

// Research terms are matched before code terms so that prompts like
// "research paper about an algorithm" stay research.
var (
	researchTerms = []string{
		"research", "literature review", "academic", "paper", "survey", "citation",
		"references", "doi", "scholarly", "journal", "systematic review",
	}
	codeTerms = []string{"code", "function", "bug", "python", "javascript", "algorithm"}
)

// Classify assigns a task category using case-insensitive substring matching.
func Classify(prompt string, hasImage bool) types.TaskCategory {
	lower := strings.ToLower(prompt)

	switch {
	case containsAny(lower, researchTerms):
		return types.TaskResearch
	case containsAny(lower, codeTerms):
		return types.TaskCode
	case hasImage:
		return types.TaskImageReason
	default:
		return types.TaskGeneral
	}
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
