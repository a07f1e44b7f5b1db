package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes
const (
	OutcomeDelivered = "delivered"
	OutcomeEmpty     = "empty"
	OutcomeNoSpeech  = "no_speech"
	OutcomeDeferred  = "deferred"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// Metrics contains all Prometheus collectors of the transcription service
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	BytesIngested    prometheus.Counter
	NotRealtime      prometheus.Counter
	ConfigRejections prometheus.Counter
	ProtocolErrors   prometheus.Counter

	// Processing run metrics
	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	ChunkSeconds  prometheus.Histogram

	// Analysis metrics
	AnalysisDuration *prometheus.HistogramVec
	AnalysisRetries  *prometheus.CounterVec
	AnalysisFailures *prometheus.CounterVec

	// Delivery metrics
	DeliveryFailures prometheus.Counter
	ArchiveFailures  prometheus.Counter
}

// New creates all collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_active_sessions",
			Help: "Current number of connected sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_sessions_total",
			Help: "Total number of sessions created",
		}),
		BytesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_audio_bytes_ingested_total",
			Help: "Total number of PCM bytes received from clients",
		}),
		NotRealtime: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_not_realtime_sessions_total",
			Help: "Sessions that streamed slower than real time past the grace period",
		}),
		ConfigRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_config_rejections_total",
			Help: "Total number of rejected config updates",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_protocol_errors_total",
			Help: "Total number of malformed or unknown inbound messages",
		}),

		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_runs_started_total",
			Help: "Total number of processing runs started",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_runs_completed_total",
			Help: "Processing runs by outcome",
		}, []string{"outcome"}),
		ChunkSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcription_chunk_duration_seconds",
			Help:    "Audio duration handed to a processing run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),

		AnalysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcription_analysis_duration_seconds",
			Help:    "Latency of VAD and ASR calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"stage", "engine"}),
		AnalysisRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_analysis_retries_total",
			Help: "Retried VAD and ASR calls",
		}, []string{"stage", "engine"}),
		AnalysisFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_analysis_failures_total",
			Help: "Failed VAD and ASR calls after retries",
		}, []string{"stage", "engine"}),

		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_delivery_failures_total",
			Help: "Outbound results that could not be sent",
		}),
		ArchiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcription_archive_failures_total",
			Help: "Transcripts that could not be archived",
		}),
	}
}

// RunCompleted records a finished processing run
func (m *Metrics) RunCompleted(outcome string) {
	m.RunsCompleted.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
