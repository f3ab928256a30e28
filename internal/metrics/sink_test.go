package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_Snapshot(t *testing.T) {
	sink := NewSink("test")

	sink.RecordAttempt()
	sink.RecordAttempt()
	sink.RecordSuccess(128)
	sink.RecordError()
	sink.RecordLatency(250 * time.Millisecond)

	snap := sink.Snapshot()
	assert.Equal(t, int64(2), snap[KeyAttempts])
	assert.Equal(t, int64(1), snap[KeySuccessfulCalls])
	assert.Equal(t, int64(1), snap[KeyErrorsTotal])
	assert.Equal(t, int64(128), snap[KeyBytesReceived])
	assert.Equal(t, int64(250), snap[KeyLastLatencyMS])
	assert.Len(t, snap, 5)
}

func TestSink_PrometheusMirror(t *testing.T) {
	sink := NewSink("test")

	sink.RecordAttempt()
	sink.RecordSuccess(64)

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.promCalls.WithLabelValues(KeyAttempts)))
	assert.Equal(t, float64(64), testutil.ToFloat64(sink.promBytes))
}

func TestSink_ConcurrentUpdates(t *testing.T) {
	sink := NewSink("test")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.RecordAttempt()
			sink.RecordSuccess(1)
		}()
	}
	wg.Wait()

	snap := sink.Snapshot()
	assert.Equal(t, int64(50), snap[KeyAttempts])
	assert.Equal(t, int64(50), snap[KeyBytesReceived])
}

func TestSink_Handler(t *testing.T) {
	sink := NewSink("test")
	sink.RecordAttempt()

	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_upstream_calls_total"))
}
