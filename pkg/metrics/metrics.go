package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Path      string `json:"path" yaml:"path" mapstructure:"path"`
}

// Collector manages the log pipeline metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	EventsIngested   *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
	DurableFailures  *prometheus.CounterVec
	MirrorFailures   *prometheus.CounterVec
	AlertsGenerated  *prometheus.CounterVec
	AlertDeliveries  *prometheus.CounterVec
	Rotations        *prometheus.CounterVec
	RetentionDeletes *prometheus.CounterVec
	CorrelationKeys  prometheus.Gauge
	StartTime        prometheus.Gauge
}

// NewCollector creates a new metrics collector on a private registry
func NewCollector(namespace string) *Collector {
	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	c.initializeMetrics()
	c.registerMetrics()
	c.StartTime.Set(float64(time.Now().Unix()))

	return c
}

func (c *Collector) initializeMetrics() {
	const subsystem = "siem_logging"

	c.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	c.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status_code"},
	)

	c.EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "events_ingested_total",
			Help:      "Events durably written, by stream, category and severity",
		},
		[]string{"stream", "category", "severity"},
	)

	c.IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent in the synchronous part of ingestion",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"stream"},
	)

	c.DurableFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "durable_write_failures_total",
			Help:      "Failed local appends",
		},
		[]string{"stream"},
	)

	c.MirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "mirror_failures_total",
			Help:      "Failed external index writes",
		},
		[]string{"index"},
	)

	c.AlertsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "alerts_generated_total",
			Help:      "Alerts raised by correlation rules",
		},
		[]string{"rule", "severity"},
	)

	c.AlertDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "alert_deliveries_total",
			Help:      "Alert deliveries by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	c.Rotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "log_rotations_total",
			Help:      "Segment rotations by stream and reason",
		},
		[]string{"stream", "reason"},
	)

	c.RetentionDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "retention_files_total",
			Help:      "Files handled by the retention sweep",
		},
		[]string{"result"},
	)

	c.CorrelationKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystem,
			Name:      "correlation_keys",
			Help:      "Keys currently held by the correlation store",
		},
	)

	c.StartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "start_time_seconds",
			Help:      "Service start time in Unix seconds",
		},
	)
}

func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.RequestsTotal,
		c.RequestDuration,
		c.EventsIngested,
		c.IngestDuration,
		c.DurableFailures,
		c.MirrorFailures,
		c.AlertsGenerated,
		c.AlertDeliveries,
		c.Rotations,
		c.RetentionDeletes,
		c.CorrelationKeys,
		c.StartTime,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	c.RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.RequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordIngest records a successful durable write
func (c *Collector) RecordIngest(stream, category, severity string, duration time.Duration) {
	if c == nil {
		return
	}
	c.EventsIngested.WithLabelValues(stream, category, severity).Inc()
	c.IngestDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// RecordDurableFailure records a failed local append
func (c *Collector) RecordDurableFailure(stream string) {
	if c == nil {
		return
	}
	c.DurableFailures.WithLabelValues(stream).Inc()
}

// RecordMirrorFailure records a failed index write
func (c *Collector) RecordMirrorFailure(index string) {
	if c == nil {
		return
	}
	c.MirrorFailures.WithLabelValues(index).Inc()
}

// RecordAlert records a raised alert
func (c *Collector) RecordAlert(rule, severity string) {
	if c == nil {
		return
	}
	c.AlertsGenerated.WithLabelValues(rule, severity).Inc()
}

// RecordDelivery records an alert delivery attempt
func (c *Collector) RecordDelivery(channel string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.AlertDeliveries.WithLabelValues(channel, status).Inc()
}

// RecordRotation records a segment rotation
func (c *Collector) RecordRotation(stream, reason string) {
	if c == nil {
		return
	}
	c.Rotations.WithLabelValues(stream, reason).Inc()
}

// RecordRetention records a sweep outcome for one file
func (c *Collector) RecordRetention(result string) {
	if c == nil {
		return
	}
	c.RetentionDeletes.WithLabelValues(result).Inc()
}

// SetCorrelationKeys sets the correlation store key gauge
func (c *Collector) SetCorrelationKeys(n int) {
	if c == nil {
		return
	}
	c.CorrelationKeys.Set(float64(n))
}

// GetRegistry returns the prometheus registry
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// CreateHandler creates an HTTP handler for the registry
func (c *Collector) CreateHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
