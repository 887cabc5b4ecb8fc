// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sauc_asr_client"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	DialErrors      prometheus.Counter

	// Frame metrics
	FramesSent       *prometheus.CounterVec
	FramesReceived   *prometheus.CounterVec
	FrameDecodeError prometheus.Counter
	AudioBytesSent   prometheus.Counter
	ServerErrors     *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	FirstResultLatency prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recognition sessions by terminal state",
		}, []string{"state"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recognition sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		DialErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_errors_total",
			Help:      "Total number of failed WebSocket handshakes",
		}),

		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent by message type",
		}, []string{"type"}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames received by message type",
		}, []string{"type"}),
		FrameDecodeError: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_decode_errors_total",
			Help:      "Total number of inbound frames that could not be decoded",
		}),
		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent",
		}),
		ServerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Total number of server error frames by error code",
		}, []string{"code"}),

		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),
		FirstResultLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_result_latency_seconds",
			Help:      "Time from session start to the first non-empty transcript",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(state string, durationSeconds float64) {
	m.SessionsTotal.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordDialError records a failed handshake.
func (m *Metrics) RecordDialError() {
	m.DialErrors.Inc()
}

// RecordFrameSent records an outbound frame. audioBytes is zero for control frames.
func (m *Metrics) RecordFrameSent(msgType string, audioBytes int) {
	m.FramesSent.WithLabelValues(msgType).Inc()
	if audioBytes > 0 {
		m.AudioBytesSent.Add(float64(audioBytes))
	}
}

// RecordFrameReceived records a decoded inbound frame.
func (m *Metrics) RecordFrameReceived(msgType string) {
	m.FramesReceived.WithLabelValues(msgType).Inc()
}

// RecordDecodeError records an inbound frame that failed to decode.
func (m *Metrics) RecordDecodeError() {
	m.FrameDecodeError.Inc()
}

// RecordServerError records a server error frame.
func (m *Metrics) RecordServerError(code string) {
	m.ServerErrors.WithLabelValues(code).Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordFirstResult records the latency to the first transcript.
func (m *Metrics) RecordFirstResult(latencySeconds float64) {
	m.FirstResultLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
