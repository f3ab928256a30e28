// Package openai wraps go-openai for servers speaking the OpenAI chat completion
// protocol (Perplexity, self-hosted inference servers).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/normalize"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// Config holds the settings of one OpenAI-compatible endpoint.
type Config struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Completion is a normalized chat completion.
type Completion struct {
	Model string
	Text  string
	Raw   json.RawMessage
}

// Client issues single-turn chat completions.
type Client struct {
	client *openai.Client
	config *Config
	logger *logrus.Logger
}

// NewClient creates a client for config.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Complete sends req as a single user turn.
func (c *Client) Complete(ctx context.Context, req types.PromptRequest) (*Completion, error) {
	chatReq := c.convertToOpenAIRequest(req)

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"base_url": c.config.BaseURL,
			"model":    c.config.Model,
		}).WithError(err).Debug("Chat completion failed")
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return convertFromOpenAIResponse(&resp, c.config.Model)
}

func (c *Client) convertToOpenAIRequest(req types.PromptRequest) openai.ChatCompletionRequest {
	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.HasImage() {
		message.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.ImageURL}},
		}
	} else {
		message.Content = req.Prompt
	}

	return openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    []openai.ChatCompletionMessage{message},
		Temperature: wireTemperature(req.Temperature),
		MaxTokens:   c.config.MaxTokens,
	}
}

// wireTemperature keeps an explicit zero on the wire. go-openai omits a zero
// temperature, which would let the upstream default apply.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func convertFromOpenAIResponse(resp *openai.ChatCompletionResponse, fallbackModel string) (*Completion, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion: %w", err)
	}

	model := resp.Model
	if model == "" {
		model = fallbackModel
	}

	text := normalize.NoChoices
	if len(resp.Choices) > 0 {
		text = normalize.MessageText(resp.Choices[0].Message.Content)
	}

	return &Completion{Model: model, Text: text, Raw: raw}, nil
}
