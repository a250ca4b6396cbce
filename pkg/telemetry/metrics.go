package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus counters/histograms for request and tool-call
// volume, supplementing the control-DB telemetry tables with a scrapeable
// surface (SPEC_FULL.md's ambient observability stack).
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ToolCallsTotal  *prometheus.CounterVec
	PoolSize        *prometheus.GaugeVec
}

// NewMetrics registers the gateway's metrics on reg and returns the handle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlgate",
			Name:      "data_agent_requests_total",
			Help:      "Total number of data_agent invocations by terminal status.",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqlgate",
			Name:      "data_agent_duration_seconds",
			Help:      "Latency of data_agent invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlgate",
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations by tool class and status.",
		}, []string{"tool_class", "status"}),
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sqlgate",
			Name:      "db_pool_size",
			Help:      "Current size of each destination connection pool.",
		}, []string{"destination"}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.ToolCallsTotal, m.PoolSize)
	return m
}
