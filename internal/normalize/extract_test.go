package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatCompletionText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"empty choices", `{"choices":[]}`, NoChoices},
		{"missing choices", `{"id":"x"}`, NoChoices},
		{"string content", `{"choices":[{"message":{"content":"**Hi** there"}}]}`, "Hi there"},
		{"null content", `{"choices":[{"message":{"content":null}}]}`, EmptyContent},
		{"blank content", `{"choices":[{"message":{"content":"   "}}]}`, EmptyContent},
		{
			"list content",
			`{"choices":[{"message":{"content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"u"}},{"type":"text","text":"b"}]}}]}`,
			"a\nb",
		},
		{
			"list without text",
			`{"choices":[{"message":{"content":[{"type":"image_url","image_url":{"url":"u"}}]}}]}`,
			NoTextParts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ChatCompletionText([]byte(tt.body)))
		})
	}
}

func TestChatCompletionText_InvalidJSON(t *testing.T) {
	text := ChatCompletionText([]byte("not json"))

	assert.True(t, strings.HasPrefix(text, "Failed to parse response: "))
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, EmptyContent, MessageText(""))
	assert.Equal(t, "done", MessageText("**done**"))
}

func TestGeminiText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"no candidates", `{"candidates":[]}`, NoGeminiCandidates},
		{"no parts", `{"candidates":[{"content":{"parts":[]}}]}`, NoGeminiParts},
		{"no text parts", `{"candidates":[{"content":{"parts":[{"inline_data":{"data":"x"}}]}}]}`, NoGeminiTextParts},
		{"joined parts", `{"candidates":[{"content":{"parts":[{"text":"hello **x**"},{"text":"bye"}]}}]}`, "hello x\nbye"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GeminiText([]byte(tt.body)))
		})
	}
}
