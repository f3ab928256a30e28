package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/intellihub-router/internal/metrics"
	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

type upstreamReply struct {
	status int
	body   string
}

// fakeUpstream answers by bearer key; each key replays its replies in order and
// repeats the last one.
type fakeUpstream struct {
	mu      sync.Mutex
	replies map[string][]upstreamReply
	calls   []string
	headers []http.Header
	bodies  [][]byte
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.headers = append(f.headers, r.Header.Clone())
	f.bodies = append(f.bodies, body)
	queue := f.replies[key]
	reply := upstreamReply{status: http.StatusInternalServerError, body: "unknown key"}
	if len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			f.replies[key] = queue[1:]
		}
	}
	f.mu.Unlock()

	w.WriteHeader(reply.status)
	w.Write([]byte(reply.body))
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestExecutor(t *testing.T, baseURL string) (*Executor, *metrics.Sink, *[]time.Duration) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	sink := metrics.NewSink("test")
	executor := NewExecutor(&Config{
		BaseURL: baseURL,
		Referer: "https://intellihub.example",
		Title:   "IntelliHub",
	}, sink, logger)

	var sleeps []time.Duration
	executor.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return executor, sink, &sleeps
}

func testPayload() ChatPayload {
	return ChatPayload{
		Model:       "google/gemini-1.5-flash-latest",
		Messages:    BuildMessages("hello", ""),
		Temperature: 0.7,
	}
}

const okBody = `{"id":"gen-3","model":"qwen/qwen-2.5-72b-instruct","choices":[{"message":{"role":"assistant","content":"third key wins"}}]}`

func TestExecutor_RotatesPastAuthFailures(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"key-one":   {{status: http.StatusUnauthorized, body: `{"error":"bad key"}`}},
		"key-two":   {{status: http.StatusForbidden, body: `{"error":"forbidden"}`}},
		"key-three": {{status: http.StatusOK, body: okBody}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, sink, sleeps := newTestExecutor(t, server.URL)

	completion, err := executor.Execute(context.Background(), testPayload(),
		[]string{"key-one", "key-two", "key-three"},
		types.RetryConfig{MaxRetriesPerKey: 2, BaseDelay: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 3, completion.Credential)
	assert.Equal(t, "qwen/qwen-2.5-72b-instruct", completion.Model)
	assert.JSONEq(t, okBody, string(completion.Body))
	assert.Equal(t, []string{"key-one", "key-two", "key-three"}, upstream.calls)
	assert.Empty(t, *sleeps, "auth failures rotate without backoff")

	snap := sink.Snapshot()
	assert.Equal(t, int64(3), snap[metrics.KeyAttempts])
	assert.Equal(t, int64(1), snap[metrics.KeySuccessfulCalls])
	assert.Equal(t, int64(0), snap[metrics.KeyErrorsTotal])
	assert.Equal(t, int64(len(okBody)), snap[metrics.KeyBytesReceived])
}

func TestExecutor_AllRateLimited(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusTooManyRequests, body: "slow down"}},
		"b": {{status: http.StatusTooManyRequests, body: "slow down"}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, sink, sleeps := newTestExecutor(t, server.URL)

	_, err := executor.Execute(context.Background(), testPayload(), []string{"a", "b"},
		types.RetryConfig{MaxRetriesPerKey: 2, BaseDelay: 5 * time.Second})
	require.Error(t, err)

	var rl *providers.RateLimitExhaustedError
	require.True(t, errors.As(err, &rl))
	assert.Len(t, rl.Attempts, 4)
	assert.Equal(t, []string{"a", "a", "b", "b"}, upstream.calls, "429 retries the same key")
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, *sleeps)
	assert.Equal(t, int64(1), sink.Snapshot()[metrics.KeyErrorsTotal])
}

func TestExecutor_BackoffIsExponentialAndCapped(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusTooManyRequests}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, _, sleeps := newTestExecutor(t, server.URL)

	_, err := executor.Execute(context.Background(), testPayload(), []string{"a"},
		types.RetryConfig{MaxRetriesPerKey: 4, BaseDelay: 20 * time.Second})
	require.Error(t, err)

	assert.Equal(t, []time.Duration{20 * time.Second, 40 * time.Second, 60 * time.Second}, *sleeps)
}

func TestExecutor_MixedFailuresAreNotRateLimitOnly(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusTooManyRequests}},
		"b": {{status: http.StatusUnauthorized}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, _, _ := newTestExecutor(t, server.URL)

	_, err := executor.Execute(context.Background(), testPayload(), []string{"a", "b"},
		types.RetryConfig{MaxRetriesPerKey: 1, BaseDelay: time.Second})
	require.Error(t, err)

	assert.False(t, providers.IsRateLimitExhausted(err))
	var ex *providers.ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.True(t, ex.HasRateLimit())
	assert.Contains(t, ex.Error(), "Auth error 401 with key 2")
}

func TestExecutor_OtherStatusRotatesImmediately(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusServiceUnavailable, body: "model loading"}},
		"b": {{status: http.StatusOK, body: okBody}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, _, sleeps := newTestExecutor(t, server.URL)

	completion, err := executor.Execute(context.Background(), testPayload(), []string{"a", "b"},
		types.RetryConfig{MaxRetriesPerKey: 3, BaseDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 2, completion.Credential)
	assert.Equal(t, []string{"a", "b"}, upstream.calls)
	assert.Empty(t, *sleeps)
}

func TestExecutor_MalformedSuccessFailsHard(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusOK, body: "<html>not json</html>"}},
		"b": {{status: http.StatusOK, body: okBody}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, _, _ := newTestExecutor(t, server.URL)

	_, err := executor.Execute(context.Background(), testPayload(), []string{"a", "b"},
		types.RetryConfig{MaxRetriesPerKey: 2, BaseDelay: time.Second})
	require.Error(t, err)

	var malformed *providers.MalformedResponseError
	assert.True(t, errors.As(err, &malformed))
	assert.Equal(t, 1, upstream.callCount(), "a malformed 200 is not retried")
}

func TestExecutor_NetworkErrorRetriesThenRotates(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	executor, sink, sleeps := newTestExecutor(t, url)

	_, err := executor.Execute(context.Background(), testPayload(), []string{"a", "b"},
		types.RetryConfig{MaxRetriesPerKey: 2, BaseDelay: 3 * time.Second})
	require.Error(t, err)

	var ex *providers.ExhaustedError
	require.True(t, errors.As(err, &ex))
	require.Len(t, ex.Attempts, 4)
	for _, a := range ex.Attempts {
		assert.Equal(t, 0, a.Status)
	}
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *sleeps)
	assert.Equal(t, int64(4), sink.Snapshot()[metrics.KeyAttempts])
}

func TestExecutor_RequestShape(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusOK, body: okBody}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, _, _ := newTestExecutor(t, server.URL)

	payload := ChatPayload{
		Model:       "x-ai/grok-4-fast:free",
		Messages:    BuildMessages("describe", "https://img.example/cat.png"),
		Temperature: 0.2,
	}
	_, err := executor.Execute(context.Background(), payload, []string{"a"}, types.RetryConfig{})
	require.NoError(t, err)

	require.Len(t, upstream.headers, 1)
	h := upstream.headers[0]
	assert.Equal(t, "Bearer a", h.Get("Authorization"))
	assert.Equal(t, "https://intellihub.example", h.Get("HTTP-Referer"))
	assert.Equal(t, "IntelliHub", h.Get("X-Title"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(upstream.bodies[0], &sent))
	assert.Equal(t, "x-ai/grok-4-fast:free", sent["model"])
	assert.Equal(t, 0.2, sent["temperature"])
	messages := sent["messages"].([]interface{})
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	assert.Len(t, content, 2)
}

func TestExecutor_NoKeys(t *testing.T) {
	executor, _, _ := newTestExecutor(t, "http://127.0.0.1:1")

	_, err := executor.Execute(context.Background(), testPayload(), nil, types.RetryConfig{})
	assert.ErrorIs(t, err, providers.ErrNoCredentials)
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	upstream := &fakeUpstream{replies: map[string][]upstreamReply{
		"a": {{status: http.StatusTooManyRequests}},
	}}
	server := httptest.NewServer(upstream)
	defer server.Close()

	executor, _, _ := newTestExecutor(t, server.URL)
	executor.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	_, err := executor.Execute(context.Background(), testPayload(), []string{"a"},
		types.RetryConfig{MaxRetriesPerKey: 3, BaseDelay: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, upstream.callCount())
}

func TestCalculateBackoffDelay(t *testing.T) {
	retry := types.RetryConfig{BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{9, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, calculateBackoffDelay(retry, tt.attempt))
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), 0))
}
