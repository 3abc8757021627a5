package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the translation relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	ConversionErrors  prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsJoined  prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram
	JoinRejections  *prometheus.CounterVec

	// Segmentation metrics
	PhrasesSegmented prometheus.Counter
	SilentPhrases    prometheus.Counter
	PhraseDuration   prometheus.Histogram

	// Dispatch metrics
	QueueSize          prometheus.Gauge
	JobsSubmitted      prometheus.Counter
	JobsCompleted      *prometheus.CounterVec
	JobDuration        prometheus.Histogram
	QueueWait          prometheus.Histogram
	ResultsDiscarded   prometheus.Counter
	OrderingViolations prometheus.Counter

	// Pipeline metrics
	StageRequests *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StageRetries  *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all relay metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Connection metrics
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babel_active_connections",
			Help: "Current number of open participant connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_connections_total",
			Help: "Total number of participant connections accepted",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_messages_received_total",
			Help: "Total number of client messages received by type",
		}, []string{"type"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_messages_sent_total",
			Help: "Total number of server messages sent by type",
		}, []string{"type"}),
		ConversionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_conversion_errors_total",
			Help: "Total number of audio payloads dropped because they could not be converted",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babel_active_sessions",
			Help: "Current number of sessions with two participants",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsJoined: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_sessions_joined_total",
			Help: "Total number of successful session joins",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babel_session_duration_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		JoinRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_join_rejections_total",
			Help: "Total number of rejected session joins by reason",
		}, []string{"reason"}),

		// Segmentation metrics
		PhrasesSegmented: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_phrases_segmented_total",
			Help: "Total number of phrases cut by the segmenter",
		}),
		SilentPhrases: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_silent_phrases_total",
			Help: "Total number of phrases flagged silent",
		}),
		PhraseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babel_phrase_duration_seconds",
			Help:    "Audio duration of segmented phrases",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~30s
		}),

		// Dispatch metrics
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babel_dispatch_queue_size",
			Help: "Current number of jobs waiting for a worker",
		}),
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_jobs_submitted_total",
			Help: "Total number of phrase jobs submitted",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_jobs_completed_total",
			Help: "Total number of phrase jobs completed by outcome",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babel_job_duration_seconds",
			Help:    "Time spent processing a phrase job",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		QueueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "babel_job_queue_wait_seconds",
			Help:    "Time a phrase job waited for a worker",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		ResultsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_results_discarded_total",
			Help: "Total number of results discarded because their stream was closed",
		}),
		OrderingViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "babel_ordering_violations_total",
			Help: "Total number of duplicate or stale results rejected by a reorder buffer",
		}),

		// Pipeline metrics
		StageRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_pipeline_requests_total",
			Help: "Total number of pipeline capability calls by stage",
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_pipeline_failures_total",
			Help: "Total number of failed pipeline capability calls by stage",
		}, []string{"stage"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babel_pipeline_duration_seconds",
			Help:    "Duration of pipeline capability calls by stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage"}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_pipeline_retries_total",
			Help: "Total number of pipeline capability retries by stage",
		}, []string{"stage"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babel_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// SetActiveConnections sets the current number of open connections
func (m *Metrics) SetActiveConnections(count int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(count))
}

// RecordConnection increments the accepted connections counter
func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

// RecordMessageReceived counts an inbound message of the given type
func (m *Metrics) RecordMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent counts an outbound message of the given type
func (m *Metrics) RecordMessageSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordConversionError increments the dropped payload counter
func (m *Metrics) RecordConversionError() {
	if m == nil {
		return
	}
	m.ConversionErrors.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionJoined increments the successful joins counter
func (m *Metrics) RecordSessionJoined() {
	if m == nil {
		return
	}
	m.SessionsJoined.Inc()
}

// RecordJoinRejected counts a rejected join by reason
func (m *Metrics) RecordJoinRejected(reason string) {
	if m == nil {
		return
	}
	m.JoinRejections.WithLabelValues(reason).Inc()
}

// RecordSessionClosed increments the sessions closed counter and records lifetime
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordPhrase records a segmented phrase
func (m *Metrics) RecordPhrase(durationSeconds float64, silent bool) {
	if m == nil {
		return
	}
	m.PhrasesSegmented.Inc()
	m.PhraseDuration.Observe(durationSeconds)
	if silent {
		m.SilentPhrases.Inc()
	}
}

// SetQueueSize sets the current dispatch queue length
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordJobSubmitted increments the submitted jobs counter
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJobCompleted records a finished job with its outcome
// ("success", "error" or "panic")
func (m *Metrics) RecordJobCompleted(outcome string, waitSeconds, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(outcome).Inc()
	m.QueueWait.Observe(waitSeconds)
	m.JobDuration.Observe(durationSeconds)
}

// RecordResultDiscarded increments the discarded results counter
func (m *Metrics) RecordResultDiscarded() {
	if m == nil {
		return
	}
	m.ResultsDiscarded.Inc()
}

// RecordOrderingViolation increments the ordering violations counter
func (m *Metrics) RecordOrderingViolation() {
	if m == nil {
		return
	}
	m.OrderingViolations.Inc()
}

// RecordStage records a pipeline capability call
func (m *Metrics) RecordStage(stage string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.StageRequests.WithLabelValues(stage).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordStageRetry increments the retry counter for a stage
func (m *Metrics) RecordStageRetry(stage string) {
	if m == nil {
		return
	}
	m.StageRetries.WithLabelValues(stage).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
