package monitoring

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for a tool run
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry
	serviceInfo *prometheus.GaugeVec
}

// NewMetricsCollector creates a new metrics collector for a service
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	// Sanitize service name for Prometheus (replace hyphens with underscores)
	sanitizedServiceName := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{
		serviceName: sanitizedServiceName,
		registry:    prometheus.NewRegistry(),
	}

	mc.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_service_info",
			Help: "Service information",
		},
		[]string{"version", "commit"},
	)
	mc.registry.MustRegister(mc.serviceInfo)
	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// Handler returns the Prometheus metrics HTTP handler
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// NewCounter creates a new counter metric for the service
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_" + name,
			Help: help,
		},
		labels,
	)
	mc.registry.MustRegister(counter)
	return counter
}

// NewGauge creates a new gauge metric for the service
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_" + name,
			Help: help,
		},
		labels,
	)
	mc.registry.MustRegister(gauge)
	return gauge
}

// NewHistogram creates a new histogram metric for the service
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    mc.serviceName + "_" + name,
			Help:    help,
			Buckets: buckets,
		},
		labels,
	)
	mc.registry.MustRegister(histogram)
	return histogram
}

// PipelineMetrics holds the metrics the ingestion pipeline reports as it
// classifies, enriches and sinks records.
type PipelineMetrics struct {
	RecordsClassified *prometheus.CounterVec // by action_type
	RecordsEnriched   *prometheus.CounterVec // by status
	FramesDropped     *prometheus.CounterVec // by reason
	PagesFetched      *prometheus.CounterVec // by status
	BatchesFlushed    *prometheus.CounterVec // by writer
	RetryAttempts     *prometheus.CounterVec // by operation
	EnrichDuration    *prometheus.HistogramVec
}

// CreatePipelineMetrics creates the standard ingestion pipeline metrics
func (mc *MetricsCollector) CreatePipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		RecordsClassified: mc.NewCounter("records_classified_total", "Records classified", []string{"action_type"}),
		RecordsEnriched:   mc.NewCounter("records_enriched_total", "Records enriched", []string{"status"}),
		FramesDropped:     mc.NewCounter("frames_dropped_total", "Stream frames dropped", []string{"reason"}),
		PagesFetched:      mc.NewCounter("search_pages_total", "Search pages fetched", []string{"status"}),
		BatchesFlushed:    mc.NewCounter("batches_flushed_total", "Batches flushed to writer", []string{"writer"}),
		RetryAttempts:     mc.NewCounter("retry_attempts_total", "Remote call retry attempts", []string{"operation"}),
		EnrichDuration:    mc.NewHistogram("enrich_duration_seconds", "Record enrichment duration", []string{"action_type"}, nil),
	}
}
