package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveChunk(t *testing.T) {
	c := NewCollector("test")
	c.ObserveChunk("bgmm", 100, 10*time.Millisecond)
	c.ObserveChunk("bgmm", 50, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ChunksProcessed.WithLabelValues("bgmm")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.RowsAssigned.WithLabelValues("bgmm")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveChunk("bgmm", 1, time.Second)
		c.ObserveFit("bgmm", time.Second)
		c.SetNetwork(1, 2, 3)
		c.ToolCall("get_summary", nil)
	})
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector("test")
	b := NewCollector("test")
	a.SetNetwork(5, 3, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.NetworkEdges))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.NetworkEdges))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.ToolCall("get_clusters", errors.New("boom"))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_mcp_tool_calls_total{status="error",tool="get_clusters"} 1`)
}
