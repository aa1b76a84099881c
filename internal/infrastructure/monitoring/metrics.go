package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a collector.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionActive   prometheus.Gauge
	LoginsTotal     *prometheus.CounterVec
	RestoresTotal   *prometheus.CounterVec
	SessionsCleared prometheus.Counter

	// Download metrics
	DownloadsTotal   *prometheus.CounterVec
	DownloadDuration prometheus.Histogram
	DownloadProgress prometheus.Gauge
	ArchiveBytes     prometheus.Histogram

	// WebSocket metrics
	WSConnections prometheus.Gauge
}

// NewMetrics creates a collector backed by its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_requests_total",
				Help: "Total number of local API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_http_request_duration_seconds",
				Help:    "Local API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_session_active",
				Help: "1 while an authenticated session is held",
			},
		),
		LoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RestoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_session_restores_total",
				Help: "Session restorations by outcome",
			},
			[]string{"outcome"},
		),
		SessionsCleared: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_sessions_cleared_total",
				Help: "Times persisted session state was cleared",
			},
		),

		DownloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_downloads_total",
				Help: "Download jobs by terminal status",
			},
			[]string{"status"},
		),
		DownloadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_download_duration_seconds",
				Help:    "Wall time of download jobs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		DownloadProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_download_progress_percent",
				Help: "Progress of the active download job",
			},
		),
		ArchiveBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_archive_size_bytes",
				Help:    "Size of produced archives",
				Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_ws_connections",
				Help: "Number of open progress streams",
			},
		),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records a local API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionActive flips the active session gauge
func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}

// RecordLogin records a login attempt outcome ("success" or "failure")
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

// RecordRestore records a restoration outcome ("restored", "absent", "invalid")
func (m *Metrics) RecordRestore(outcome string) {
	if m == nil {
		return
	}
	m.RestoresTotal.WithLabelValues(outcome).Inc()
}

// IncSessionsCleared counts a clear of persisted session state
func (m *Metrics) IncSessionsCleared() {
	if m == nil {
		return
	}
	m.SessionsCleared.Inc()
}

// SetDownloadProgress mirrors the active job's progress
func (m *Metrics) SetDownloadProgress(percent float64) {
	if m == nil {
		return
	}
	m.DownloadProgress.Set(percent)
}

// RecordDownload records a finished job
func (m *Metrics) RecordDownload(status string, duration time.Duration, archiveBytes int64) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(status).Inc()
	m.DownloadDuration.Observe(duration.Seconds())
	if archiveBytes > 0 {
		m.ArchiveBytes.Observe(float64(archiveBytes))
	}
}

// IncWSConnections increments open progress streams
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements open progress streams
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
