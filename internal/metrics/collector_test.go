package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordRequest("stream", "ok", 2*time.Second)
	c.RecordRequest("stream", "ok", time.Second)
	c.RecordRequest("sync", "upstream_error", time.Second)
	c.RecordFrame("plain_text")
	c.RecordFrame("tool_calls")
	c.RecordFrame("plain_text")
	c.RecordTokenRefresh("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("stream", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("sync", "upstream_error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesTotal.WithLabelValues("plain_text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokenRefreshes.WithLabelValues("success")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordRequest("sync", "ok", time.Second)
		c.RecordFrame("error")
		c.RecordTokenRefresh("failure")
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test", nil)
	c.RecordFrame("tool_response")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_stream_frames_total{kind="tool_response"} 1`)
}
