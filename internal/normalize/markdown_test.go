package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanMarkdown_PreservesFencedCode(t *testing.T) {
	input := "Here is **bold** text.\n\n```go\nx := \"**not bold**\"\n\n\n_keep_ *this*\n```\nDone."
	expected := "Here is bold text.\n\n```go\nx := \"**not bold**\"\n\n\n_keep_ *this*\n```\nDone."

	assert.Equal(t, expected, CleanMarkdown(input))
}

func TestCleanMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"header", "# Title\nSome text", "Title\n\nSome text"},
		{"deep header", "### Notes", "Notes"},
		{"bullets", "- one\n* two\n  • three", "• one\n• two\n• three"},
		{"numbered", "1.  first\n   2. second", "1. first\n2. second"},
		{"bold and italic", "***both*** and **bold** and *it*", "both and bold and it"},
		{"underscores", "__strong__ and _soft_", "strong and soft"},
		{"inline code kept", "Use `__init__` and __bold__", "Use `__init__` and bold"},
		{"collapse blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"trim outer blank lines", "\n\nhello\n\n", "hello"},
		{"trailing spaces", "line one   \nline two\t", "line one\nline two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanMarkdown(tt.input))
		})
	}
}
