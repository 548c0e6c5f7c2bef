// Package metrics holds the Prometheus collectors for a clustering run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so that several collectors can coexist
// in one process (tests, the serve command).
//
// All methods are safe on a nil *Collector and then do nothing.
type Collector struct {
	registry *prometheus.Registry

	ChunksProcessed *prometheus.CounterVec
	RowsAssigned    *prometheus.CounterVec
	ChunkDuration   *prometheus.HistogramVec
	FitDuration     *prometheus.HistogramVec

	NetworkSamples    prometheus.Gauge
	NetworkEdges      prometheus.Gauge
	NetworkComponents prometheus.Gauge

	ToolCalls *prometheus.CounterVec
}

// NewCollector creates a collector with every metric registered under
// namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ChunksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assign_chunks_total",
				Help:      "Distance chunks assigned, by model kind",
			},
			[]string{"model"},
		),
		RowsAssigned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assign_rows_total",
				Help:      "Distance rows assigned, by model kind",
			},
			[]string{"model"},
		),
		ChunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assign_chunk_duration_seconds",
				Help:      "Time to assign one chunk",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		FitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Model fit duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"model"},
		),
		NetworkSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_samples",
			Help:      "Samples in the last network built",
		}),
		NetworkEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_edges",
			Help:      "Edges in the last network built",
		}),
		NetworkComponents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_components",
			Help:      "Connected components in the last network built",
		}),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mcp_tool_calls_total",
				Help:      "MCP tool calls by tool and outcome",
			},
			[]string{"tool", "status"},
		),
	}

	registry.MustRegister(
		c.ChunksProcessed,
		c.RowsAssigned,
		c.ChunkDuration,
		c.FitDuration,
		c.NetworkSamples,
		c.NetworkEdges,
		c.NetworkComponents,
		c.ToolCalls,
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveChunk records one assigned chunk.
func (c *Collector) ObserveChunk(model string, rows int, d time.Duration) {
	if c == nil {
		return
	}
	c.ChunksProcessed.WithLabelValues(model).Inc()
	c.RowsAssigned.WithLabelValues(model).Add(float64(rows))
	c.ChunkDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveFit records the duration of a model fit.
func (c *Collector) ObserveFit(model string, d time.Duration) {
	if c == nil {
		return
	}
	c.FitDuration.WithLabelValues(model).Observe(d.Seconds())
}

// SetNetwork records the size of the last network built.
func (c *Collector) SetNetwork(samples, edges, components int) {
	if c == nil {
		return
	}
	c.NetworkSamples.Set(float64(samples))
	c.NetworkEdges.Set(float64(edges))
	c.NetworkComponents.Set(float64(components))
}

// ToolCall records one MCP tool invocation.
func (c *Collector) ToolCall(tool string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ToolCalls.WithLabelValues(tool, status).Inc()
}
