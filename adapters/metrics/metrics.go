// Package metrics provides Prometheus metrics collection for Xancrypt.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/ports"
)

const namespace = "xancrypt"

// EncryptionBuckets are the histogram buckets for conversion duration in seconds.
var EncryptionBuckets = []float64{0.5, 1, 3, 5, 10}

// Collector holds all Prometheus metrics for Xancrypt.
type Collector struct {
	gatherer prometheus.Gatherer

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Conversion metrics. The duration histogram is a vector without labels
	// so it can be reset.
	EncryptionDuration *prometheus.HistogramVec
	EncryptionErrors   *prometheus.CounterVec

	LastConversionTimestamp prometheus.Gauge
	LastConversionCSSFiles  prometheus.Gauge
	LastConversionJSFiles   prometheus.Gauge
	LastConversionDuration  prometheus.Gauge

	// Admission metrics
	AdmissionDecisions *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector on its own registry, together with the Go runtime
// and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a collector registering on reg.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests received",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		EncryptionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "encryption_duration_seconds",
				Help:      "Duration of each encryption operation in seconds",
				Buckets:   EncryptionBuckets,
			},
			nil,
		),
		EncryptionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "encryption_errors_total",
				Help:      "Total number of encryption errors",
			},
			[]string{"kind"},
		),

		LastConversionTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_conversion_timestamp_seconds",
				Help:      "Unix timestamp (seconds) when the last conversion started",
			},
		),
		LastConversionCSSFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_conversion_css_files",
				Help:      "Number of CSS files in the most recent conversion",
			},
		),
		LastConversionJSFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_conversion_js_files",
				Help:      "Number of JS files in the most recent conversion",
			},
		),
		LastConversionDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_conversion_duration_seconds",
				Help:      "Elapsed time in seconds for the most recent conversion",
			},
		),

		AdmissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission gate decisions by outcome and identity scope",
			},
			[]string{"outcome", "scope"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ConversionStarted records the size and start time of a conversion.
func (c *Collector) ConversionStarted(css, js int, at time.Time) {
	c.LastConversionTimestamp.Set(float64(at.Unix()))
	c.LastConversionCSSFiles.Set(float64(css))
	c.LastConversionJSFiles.Set(float64(js))
}

// ConversionSucceeded records the duration of a successful conversion.
func (c *Collector) ConversionSucceeded(elapsed time.Duration) {
	c.EncryptionDuration.WithLabelValues().Observe(elapsed.Seconds())
	c.LastConversionDuration.Set(elapsed.Seconds())
}

// ConversionFailed counts a failed conversion by error kind.
func (c *Collector) ConversionFailed(kind string, elapsed time.Duration) {
	c.EncryptionErrors.WithLabelValues(kind).Inc()
	c.LastConversionDuration.Set(elapsed.Seconds())
}

// AdmissionDecided counts an admission decision.
func (c *Collector) AdmissionDecided(scope identity.ScopeKind, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	c.AdmissionDecisions.WithLabelValues(outcome, string(scope)).Inc()
}

// ResetConversion clears the conversion duration and error metrics.
func (c *Collector) ResetConversion() {
	c.EncryptionDuration.Reset()
	c.EncryptionErrors.Reset()
	c.LastConversionDuration.Set(0)
}

// ConfigReloaded records the outcome of a configuration reload.
func (c *Collector) ConfigReloaded(err error, at time.Time) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

// Ensure interface compliance.
var _ ports.Observer = (*Collector)(nil)
