// Package metrics provides Prometheus-based metrics recording and querying
// for the supervisor's protocol streams.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records protocol-level metrics from the decode loops. A nil-safe
// no-op implementation is available for callers that run without metrics.
type Recorder interface {
	// RecordEvent counts one decoded and applied protocol event.
	RecordEvent(executionID, phase, eventType string)

	// RecordFrameDropped counts one discarded frame.
	RecordFrameDropped(phase, reason string)

	// RecordActionTerminal counts one action reaching a terminal status.
	RecordActionTerminal(actionType, status string)

	// RecordStreamFailure counts one transport or domain-level stream failure.
	RecordStreamFailure(phase string)

	// ObserveStreamDuration records how long one stream stayed open.
	ObserveStreamDuration(phase string, duration time.Duration)

	// SetTranscriptTokens records the current transcript size in tokens.
	SetTranscriptTokens(executionID string, tokens int)
}

// PrometheusRecorder implements Recorder using Prometheus collectors.
type PrometheusRecorder struct {
	eventsTotal        *prometheus.CounterVec
	framesDroppedTotal *prometheus.CounterVec
	actionsTotal       *prometheus.CounterVec
	streamFailures     *prometheus.CounterVec
	streamDuration     *prometheus.HistogramVec
	transcriptTokens   *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a recorder registered on the default
// Prometheus registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		eventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_events_total",
				Help: "Total protocol events applied, by execution, stream phase and event type",
			},
			[]string{"execution_id", "phase", "type"},
		),
		framesDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_frames_dropped_total",
				Help: "Total protocol frames discarded as malformed or out of order",
			},
			[]string{"phase", "reason"},
		),
		actionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_actions_total",
				Help: "Total actions reaching a terminal status, by type and status",
			},
			[]string{"type", "status"},
		),
		streamFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_stream_failures_total",
				Help: "Total streams ending in a transport or domain error",
			},
			[]string{"phase"},
		),
		streamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overseer_stream_duration_seconds",
				Help:    "Duration of protocol streams in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		transcriptTokens: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "overseer_transcript_tokens",
				Help: "Current transcript size in tokens per execution",
			},
			[]string{"execution_id"},
		),
	}
}

// RecordEvent counts one decoded and applied protocol event.
func (p *PrometheusRecorder) RecordEvent(executionID, phase, eventType string) {
	p.eventsTotal.WithLabelValues(executionID, phase, eventType).Inc()
}

// RecordFrameDropped counts one discarded frame.
func (p *PrometheusRecorder) RecordFrameDropped(phase, reason string) {
	p.framesDroppedTotal.WithLabelValues(phase, reason).Inc()
}

// RecordActionTerminal counts one action reaching a terminal status.
func (p *PrometheusRecorder) RecordActionTerminal(actionType, status string) {
	p.actionsTotal.WithLabelValues(actionType, status).Inc()
}

// RecordStreamFailure counts one stream ending in an error.
func (p *PrometheusRecorder) RecordStreamFailure(phase string) {
	p.streamFailures.WithLabelValues(phase).Inc()
}

// ObserveStreamDuration records how long one stream stayed open.
func (p *PrometheusRecorder) ObserveStreamDuration(phase string, duration time.Duration) {
	p.streamDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetTranscriptTokens records the current transcript size in tokens.
func (p *PrometheusRecorder) SetTranscriptTokens(executionID string, tokens int) {
	p.transcriptTokens.WithLabelValues(executionID).Set(float64(tokens))
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordEvent(string, string, string)           {}
func (NopRecorder) RecordFrameDropped(string, string)            {}
func (NopRecorder) RecordActionTerminal(string, string)          {}
func (NopRecorder) RecordStreamFailure(string)                   {}
func (NopRecorder) ObserveStreamDuration(string, time.Duration)  {}
func (NopRecorder) SetTranscriptTokens(string, int)              {}

var _ Recorder = (*PrometheusRecorder)(nil)
var _ Recorder = NopRecorder{}
