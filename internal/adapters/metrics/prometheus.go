package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolrouter_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolrouter_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolrouter_tool_executions_total",
		Help: "Tool executions by source and outcome",
	}, []string{"source", "outcome"})

	ToolExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolrouter_tool_execution_duration_seconds",
		Help:    "Tool execution duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolrouter_fallbacks_total",
		Help: "Executions retried on an alternative tool",
	}, []string{"category"})

	ServerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolrouter_server_request_duration_seconds",
		Help:    "JSON-RPC round trip time to external tool servers",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"server", "method"})

	ServerConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toolrouter_server_connected",
		Help: "1 when the external tool server is connected",
	}, []string{"server"})

	TransportReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolrouter_transport_reconnects_total",
		Help: "Transport reconnect attempts",
	}, []string{"server"})

	CatalogTools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toolrouter_catalog_tools",
		Help: "Tools in the unified catalog",
	})

	CatalogConflicts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toolrouter_catalog_conflicts",
		Help: "Tool name conflicts in the unified catalog",
	})

	CatalogRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolrouter_catalog_refresh_total",
		Help: "Catalog refreshes by whether the tool set changed",
	}, []string{"changed"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toolrouter_circuit_state",
		Help: "Circuit breaker state per tool source (0 closed, 1 half-open, 2 open)",
	}, []string{"source"})
)
