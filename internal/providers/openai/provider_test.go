package openai

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/intellihub-router/internal/normalize"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

func completionServer(t *testing.T, reply string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			require.NoError(t, json.Unmarshal(body, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply))
	}))
}

func createTestClient(baseURL string) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewClient(&Config{APIKey: "test-key", BaseURL: baseURL, Model: "sonar", MaxTokens: 256}, logger)
}

func TestComplete_TextPrompt(t *testing.T) {
	var sent map[string]interface{}
	server := completionServer(t, `{"id":"c1","object":"chat.completion","model":"sonar-pro",
		"choices":[{"index":0,"message":{"role":"assistant","content":"## Findings\n- **one**"},"finish_reason":"stop"}]}`, &sent)
	defer server.Close()

	completion, err := createTestClient(server.URL).Complete(context.Background(),
		types.PromptRequest{Prompt: "survey of sorting", Temperature: 0.5})
	require.NoError(t, err)

	assert.Equal(t, "sonar-pro", completion.Model)
	assert.Equal(t, "Findings\n\n• one", completion.Text)
	assert.Contains(t, string(completion.Raw), `"id":"c1"`)

	assert.Equal(t, "sonar", sent["model"])
	assert.Equal(t, float64(256), sent["max_tokens"])
	assert.InDelta(t, 0.5, sent["temperature"], 1e-6)
	messages := sent["messages"].([]interface{})
	assert.Equal(t, "survey of sorting", messages[0].(map[string]interface{})["content"])
}

func TestWireTemperature(t *testing.T) {
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), wireTemperature(0))
	assert.Equal(t, float32(0.7), wireTemperature(0.7))
}

func TestComplete_ImagePrompt(t *testing.T) {
	var sent map[string]interface{}
	server := completionServer(t, `{"choices":[{"message":{"role":"assistant","content":"a cat"}}]}`, &sent)
	defer server.Close()

	completion, err := createTestClient(server.URL).Complete(context.Background(),
		types.PromptRequest{Prompt: "what is this", ImageURL: "https://img.example/cat.png"})
	require.NoError(t, err)

	assert.Equal(t, "sonar", completion.Model, "falls back to the configured model")
	assert.Equal(t, "a cat", completion.Text)

	content := sent["messages"].([]interface{})[0].(map[string]interface{})["content"].([]interface{})
	assert.Len(t, content, 2)
}

func TestComplete_NoChoices(t *testing.T) {
	server := completionServer(t, `{"id":"c2","choices":[]}`, nil)
	defer server.Close()

	completion, err := createTestClient(server.URL).Complete(context.Background(), types.PromptRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, normalize.NoChoices, completion.Text)
}

func TestComplete_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key","type":"auth"}}`))
	}))
	defer server.Close()

	_, err := createTestClient(server.URL).Complete(context.Background(), types.PromptRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
}
