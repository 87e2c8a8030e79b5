// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "case_study_live_eval"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionDuration  prometheus.Histogram
	ConnectionStates *prometheus.CounterVec

	// Ingestion metrics
	TokensIngested  *prometheus.CounterVec
	SegmentsCreated prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioLimitExceeded  *prometheus.CounterVec

	// Dispatch metrics
	DispatchTotal      *prometheus.CounterVec
	DispatchSkipped    *prometheus.CounterVec
	DispatchLatency    *prometheus.HistogramVec
	TranscriptVersions prometheus.Counter
	TranscriptLength   prometheus.Histogram

	// Poll metrics
	PollTotal         *prometheus.CounterVec
	PollLatency       prometheus.Histogram
	EvaluationRecords prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// gRPC metrics
	GRPCStreamsActive prometheus.Gauge
	GRPCCalls         *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running live sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of live sessions in seconds",
			Buckets:   []float64{60, 300, 600, 1200, 1800, 2700, 3600, 5400},
		}),
		ConnectionStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_transitions_total",
			Help:      "Transcription connection state transitions by target state",
		}, []string{"state"}),

		TokensIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_ingested_total",
			Help:      "Speech tokens received from the transcription connection",
		}, []string{"outcome"}),
		SegmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of speaker segments opened",
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		AudioLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_limit_exceeded_total",
			Help:      "Total number of times session audio limits were exceeded",
		}, []string{"limit_type"}),

		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Transcript dispatch attempts that reached the evaluator",
		}, []string{"trigger", "result"}),
		DispatchSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_skipped_total",
			Help:      "Dispatch attempts that did not call the evaluator",
		}, []string{"reason"}),
		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Evaluator dispatch call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"trigger"}),
		TranscriptVersions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_versions_total",
			Help:      "Transcript versions accepted by the evaluator",
		}),
		TranscriptLength: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcript_length_chars",
			Help:      "Length of dispatched consolidated transcripts in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 12),
		}),

		PollTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_total",
			Help:      "Evaluation result polls by result",
		}, []string{"result"}),
		PollLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_latency_seconds",
			Help:      "Evaluation result poll latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		EvaluationRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_records_total",
			Help:      "Evaluation records retrieved by polling",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of transcription connection errors",
		}, []string{"provider", "error_type"}),

		GRPCStreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of open gRPC server streams",
		}),
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "gRPC calls by method and status code",
		}, []string{"method", "code"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session stopping.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordConnectionState records a transition into state.
func (m *Metrics) RecordConnectionState(state string) {
	m.ConnectionStates.WithLabelValues(state).Inc()
}

// RecordToken records a token by ingest outcome.
func (m *Metrics) RecordToken(outcome string) {
	m.TokensIngested.WithLabelValues(outcome).Inc()
}

// RecordSegmentCreated records a new speaker segment.
func (m *Metrics) RecordSegmentCreated() {
	m.SegmentsCreated.Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordLimitExceeded records when an audio limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.AudioLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordDispatch records an evaluator dispatch call.
func (m *Metrics) RecordDispatch(trigger string, err error, latencySeconds float64) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.DispatchTotal.WithLabelValues(trigger, result).Inc()
	m.DispatchLatency.WithLabelValues(trigger).Observe(latencySeconds)
}

// RecordDispatchSkipped records a dispatch attempt that never reached the evaluator.
func (m *Metrics) RecordDispatchSkipped(reason string) {
	m.DispatchSkipped.WithLabelValues(reason).Inc()
}

// RecordVersion records an accepted transcript version.
func (m *Metrics) RecordVersion(transcriptLen int) {
	m.TranscriptVersions.Inc()
	m.TranscriptLength.Observe(float64(transcriptLen))
}

// RecordPoll records an evaluation poll.
func (m *Metrics) RecordPoll(records int, err error, latencySeconds float64) {
	m.PollLatency.Observe(latencySeconds)
	if err != nil {
		m.PollTotal.WithLabelValues("failure").Inc()
		return
	}
	m.PollTotal.WithLabelValues("success").Inc()
	m.EvaluationRecords.Add(float64(records))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records a transcription connection error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}

// RecordStreamStart records a gRPC stream opening.
func (m *Metrics) RecordStreamStart() {
	m.GRPCStreamsActive.Inc()
}

// RecordStreamEnd records a gRPC stream closing.
func (m *Metrics) RecordStreamEnd(method, code string) {
	m.GRPCStreamsActive.Dec()
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}

// RecordHTTPRequest records a completed HTTP API request. route is the matched pattern.
func (m *Metrics) RecordHTTPRequest(route, method string, code int, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(route, method).Observe(latencySeconds)
}
