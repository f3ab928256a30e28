package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const geminiOK = `{"candidates":[{"content":{"parts":[{"text":"**Bold** answer"}],"role":"model"}}]}`

type fakeGemini struct {
	mu       sync.Mutex
	status   map[string]int
	listing  []string
	methods  map[string][]string
	calls    []string
	listings int
	bodies   [][]byte
	apiKeys  []string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("x-goog-api-key"))

	if r.Method == http.MethodGet && r.URL.Path == "/v1beta/models" {
		f.listings++
		var listing modelList
		for _, name := range f.listing {
			listing.Models = append(listing.Models, listedModel{
				Name:                       name,
				SupportedGenerationMethods: f.methods[name],
			})
		}
		json.NewEncoder(w).Encode(listing)
		return
	}

	model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":generateContent")
	body, _ := io.ReadAll(r.Body)
	f.calls = append(f.calls, model)
	f.bodies = append(f.bodies, body)

	status, ok := f.status[model]
	if !ok {
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
	if status == http.StatusOK {
		w.Write([]byte(geminiOK))
		return
	}
	w.Write([]byte(`{"error":{"message":"models/` + model + ` is not found"}}`))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewClient(&Config{APIKey: "primary-key", BaseURL: baseURL}, logger)
}

func TestGenerate_FirstCandidate(t *testing.T) {
	fake := &fakeGemini{status: map[string]int{"gemini-2.5-flash": http.StatusOK}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Generate(context.Background(),
		types.PromptRequest{Prompt: "hello", Temperature: 0.3}, types.TaskGeneral)
	require.NoError(t, err)

	assert.Equal(t, "gemini/gemini-2.5-flash", resp.Model)
	assert.Equal(t, types.TaskGeneral, resp.TaskType)
	assert.Equal(t, "Bold answer", resp.AssistantText)
	assert.JSONEq(t, geminiOK, string(resp.Raw))
	assert.Equal(t, []string{"primary-key"}, fake.apiKeys)

	var sent generateRequest
	require.NoError(t, json.Unmarshal(fake.bodies[0], &sent))
	assert.Equal(t, 0.3, sent.GenerationConfig.Temperature)
	assert.Equal(t, 2048, sent.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, 0.95, sent.GenerationConfig.TopP)
	assert.Equal(t, 40, sent.GenerationConfig.TopK)
	require.Len(t, sent.Contents[0].Parts, 1)
	assert.Equal(t, "hello", sent.Contents[0].Parts[0].Text)
}

func TestGenerate_NotFoundWalksAlternates(t *testing.T) {
	fake := &fakeGemini{status: map[string]int{"gemini-flash-latest": http.StatusOK}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)
	require.NoError(t, err)

	assert.Equal(t, "gemini/gemini-flash-latest", resp.Model)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-flash-latest"}, fake.calls)
	assert.Equal(t, 0, fake.listings)
}

func TestGenerate_DiscoversPreferredFamily(t *testing.T) {
	fake := &fakeGemini{
		status:  map[string]int{"gemini-2.5-pro": http.StatusOK},
		listing: []string{"models/gemini-1.0-pro", "models/gemini-2.5-flash", "models/gemini-2.5-pro"},
	}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)
	require.NoError(t, err)

	assert.Equal(t, "gemini/gemini-2.5-pro", resp.Model)
	assert.Equal(t, []string{
		"gemini-2.5-flash", "gemini-flash-latest", "gemini-2.5-flash-lite", "gemini-2.0-flash", "gemini-2.5-pro",
	}, fake.calls)
	assert.Equal(t, 1, fake.listings)
}

func TestGenerate_DiscoverySkipsModelsWithoutGenerateContent(t *testing.T) {
	fake := &fakeGemini{
		status:  map[string]int{"gemini-2.5-pro": http.StatusOK, "gemini-2.5-embedding": http.StatusOK},
		listing: []string{"models/gemini-2.5-embedding", "models/gemini-2.5-pro"},
		methods: map[string][]string{
			"models/gemini-2.5-embedding": {"embedContent"},
			"models/gemini-2.5-pro":       {"generateContent", "countTokens"},
		},
	}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)
	require.NoError(t, err)

	assert.Equal(t, "gemini/gemini-2.5-pro", resp.Model)
	assert.NotContains(t, fake.calls, "gemini-2.5-embedding")
}

func TestGenerate_ModelListingIsCached(t *testing.T) {
	fake := &fakeGemini{listing: []string{"models/gemini-2.5-pro"}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	for i := 0; i < 2; i++ {
		_, err := client.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"models=[gemini-2.5-flash gemini-flash-latest gemini-2.5-flash-lite gemini-2.0-flash gemini-2.5-pro]")
		assert.Contains(t, err.Error(), "last_error=HTTP 404")
		assert.Contains(t, err.Error(), "GEMINI_PREFERRED_FAMILY")
	}
	assert.Equal(t, 1, fake.listings)
	assert.Len(t, fake.calls, 10)
}

func TestGenerate_OtherStatusStops(t *testing.T) {
	fake := &fakeGemini{status: map[string]int{"gemini-2.5-flash": http.StatusTooManyRequests}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "last_error=HTTP 429")
	assert.Equal(t, []string{"gemini-2.5-flash"}, fake.calls)
	assert.Equal(t, 0, fake.listings)
}

func TestGenerate_MalformedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)

	var malformed *providers.MalformedResponseError
	assert.True(t, errors.As(err, &malformed))
}

func TestGenerate_InlinesImage(t *testing.T) {
	imageBytes := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(imageBytes)
	}))
	defer images.Close()

	fake := &fakeGemini{status: map[string]int{"gemini-2.5-flash": http.StatusOK}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Generate(context.Background(),
		types.PromptRequest{Prompt: "what is this", ImageURL: images.URL + "/cat.png"}, types.TaskImageReason)
	require.NoError(t, err)

	var sent generateRequest
	require.NoError(t, json.Unmarshal(fake.bodies[0], &sent))
	parts := sent.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(imageBytes), parts[1].InlineData.Data)
}

func TestGenerate_ImageFetchFailure(t *testing.T) {
	images := httptest.NewServer(http.NotFoundHandler())
	defer images.Close()

	client := newTestClient(t, "http://127.0.0.1:1")
	_, err := client.Generate(context.Background(),
		types.PromptRequest{Prompt: "what is this", ImageURL: images.URL}, types.TaskImageReason)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch image for Gemini")
}

func TestAPIKeySelection(t *testing.T) {
	logger := logrus.New()

	c := NewClient(&Config{APIKey: "old", NewAPIKey: "new", UseNewKey: true}, logger)
	assert.Equal(t, "new", c.apiKey())

	c = NewClient(&Config{APIKey: "old", UseNewKey: true}, logger)
	assert.Equal(t, "old", c.apiKey())

	c = NewClient(&Config{APIKey: "old", NewAPIKey: "new"}, logger)
	assert.Equal(t, "old", c.apiKey())

	c = NewClient(&Config{}, logger)
	assert.False(t, c.Configured())
	_, err := c.Generate(context.Background(), types.PromptRequest{Prompt: "hi"}, types.TaskGeneral)
	assert.ErrorIs(t, err, providers.ErrNotConfigured)
}

func TestApplyModelOverride(t *testing.T) {
	tests := []struct {
		model    string
		override string
		expected string
	}{
		{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.5-pro"},
		{"gemini-1.5-flash", " gemini-2.0-flash ", "gemini-2.0-flash"},
		{"", "gemini-2.5-pro", "gemini-2.5-pro"},
		{"gemini-1.5-pro", "gemini-2.5-pro", "gemini-1.5-pro"},
		{"gemini-2.5-flash", "", "gemini-2.5-flash"},
	}
	for _, tt := range tests {
		c := &Config{Model: tt.model}
		c.ApplyModelOverride(tt.override)
		assert.Equal(t, tt.expected, c.Model)
	}
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"gemini-2.5-pro", "gemini-pro-latest", "gemini-2.5-flash"}, Candidates("gemini-2.5-pro"))
	assert.Equal(t, []string{"custom-model"}, Candidates("custom-model"))
}
