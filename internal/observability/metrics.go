// Package observability exposes narration metrics and a local debug server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/narrate/tts"
)

// Metrics groups the Prometheus instruments of a reader process. It
// satisfies session.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	StreamEvents      *prometheus.CounterVec
	SegmentStatuses   *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram
	StaleEvents       prometheus.Counter
	Crossfades        *prometheus.CounterVec
}

// NewMetrics registers the instruments on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Synthesis stream events by kind.",
		}, []string{"kind"}),
		SegmentStatuses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_status_total",
			Help:      "Segment status transitions by resulting status.",
		}, []string{"status"}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from block load to first playable segment in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		StaleEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_events_dropped_total",
			Help:      "Stream events dropped because their generation was superseded.",
		}),
		Crossfades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambience_crossfades_total",
			Help:      "Ambience loop crossfades by sound.",
		}, []string{"sound"}),
	}
}

// StreamEvent counts one synthesis stream event.
func (m *Metrics) StreamEvent(kind string) {
	m.StreamEvents.WithLabelValues(kind).Inc()
}

// SegmentStatus counts one segment status change.
func (m *Metrics) SegmentStatus(status tts.SegmentStatus) {
	m.SegmentStatuses.WithLabelValues(status.String()).Inc()
}

// FirstAudio observes the time to first audio of a block.
func (m *Metrics) FirstAudio(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

// StaleDropped counts one superseded stream event.
func (m *Metrics) StaleDropped() {
	m.StaleEvents.Inc()
}

// Crossfade counts one ambience crossfade.
func (m *Metrics) Crossfade(sound string) {
	m.Crossfades.WithLabelValues(sound).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
