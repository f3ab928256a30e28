package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

const (
	endpointTimeout = 5 * time.Second
	snippetLength   = 200
	maxBodyBytes    = 10 << 20
)

// textKeys are the response fields read, in order, from a JSON endpoint reply.
var textKeys = []string{"text", "result", "response", "output"}

type endpointBackend struct {
	url    string
	key    string
	client *http.Client
}

func newEndpointBackend(url, key string) *endpointBackend {
	return &endpointBackend{
		url:    url,
		key:    key,
		client: &http.Client{Timeout: endpointTimeout},
	}
}

func (b *endpointBackend) model() string { return "local/endpoint:" + b.url }

func (b *endpointBackend) raw() json.RawMessage {
	return mustJSON(map[string]string{"backend": "endpoint", "url": b.url})
}

func (b *endpointBackend) call(ctx context.Context, req types.PromptRequest) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":      req.Prompt,
		"temperature": req.Temperature,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("local endpoint request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.key)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("local endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("local endpoint request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &providers.StatusError{
			Provider: "local endpoint",
			Status:   resp.StatusCode,
			Snippet:  providers.Snippet(respBody, snippetLength),
		}
	}

	return endpointText(respBody), nil
}

// endpointText reads the first known text field of a JSON reply. Plain text
// replies are returned as is, and JSON without a known field is returned whole.
func endpointText(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return string(body)
	}

	for _, key := range textKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			return s
		}
		return string(value)
	}
	return string(body)
}
