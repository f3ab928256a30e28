// Package normalize turns provider payloads into plain assistant text.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholders returned when a payload carries no usable text.
const (
	NoChoices          = "(no choices in response)"
	NoTextParts        = "(no text parts)"
	EmptyContent       = "(empty content)"
	NoGeminiCandidates = "(no candidates in Gemini response)"
	NoGeminiParts      = "(no parts in Gemini response)"
	NoGeminiTextParts  = "(no text parts in Gemini response)"
	parseFailurePrefix = "Failed to parse response: "
)

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatCompletionText extracts the first choice of an OpenAI-style chat
// completion. The result is never empty.
func ChatCompletionText(body []byte) string {
	var resp chatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(err)
	}
	if len(resp.Choices) == 0 {
		return NoChoices
	}
	return clean(contentText(resp.Choices[0].Message.Content))
}

// MessageText normalizes an already decoded assistant message.
func MessageText(content string) string {
	return clean(content)
}

func contentText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return EmptyContent
	}

	if strings.HasPrefix(trimmed, "[") {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return parseFailure(err)
		}
		var texts []string
		for _, p := range parts {
			var part contentPart
			if err := json.Unmarshal(p, &part); err != nil {
				continue
			}
			if part.Type == "text" && part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		if len(texts) == 0 {
			return NoTextParts
		}
		return strings.Join(texts, "\n")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return parseFailure(err)
	}
	if s == "" {
		return EmptyContent
	}
	return s
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []json.RawMessage `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GeminiText extracts the text parts of the first Gemini candidate.
func GeminiText(body []byte) string {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(err)
	}
	if len(resp.Candidates) == 0 {
		return NoGeminiCandidates
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return NoGeminiParts
	}
	var texts []string
	for _, p := range parts {
		var part struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p, &part); err != nil {
			continue
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	if len(texts) == 0 {
		return NoGeminiTextParts
	}
	return clean(strings.Join(texts, "\n"))
}

// clean applies CleanMarkdown and keeps the result non-empty.
func clean(text string) string {
	if out := CleanMarkdown(text); out != "" {
		return out
	}
	return EmptyContent
}

func parseFailure(err error) string {
	return fmt.Sprintf("%s%v", parseFailurePrefix, err)
}
