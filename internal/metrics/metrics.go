// Package metrics holds the Prometheus collectors for the live pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "astra_live"

var (
	// ChunksSent counts outgoing media chunks by kind (audio, video).
	ChunksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Outgoing media chunks written to the stream",
		},
		[]string{"kind"},
	)

	// ChunksDropped counts chunks dropped because the outbound queue was full
	// or the write failed.
	ChunksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Outgoing media chunks dropped",
		},
		[]string{"kind", "reason"}, // reason: queue_full, send_error
	)

	// AudioPackets counts inbound audio packets by result (ok, malformed, rejected).
	AudioPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_packets_total",
			Help:      "Inbound audio packets by decode result",
		},
		[]string{"result"},
	)

	// TranscriptFragments counts transcript entries by speaker.
	TranscriptFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fragments_total",
			Help:      "Transcript fragments received",
		},
		[]string{"speaker"},
	)

	// TransportErrors counts non-fatal stream errors.
	TransportErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Non-fatal errors reported by the streaming transport",
		},
	)

	// Sessions counts session starts by outcome (active, device_error,
	// connection_error, stopped).
	Sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session start attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SessionState is 1 for the current controller state and 0 for the rest.
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state",
		},
		[]string{"state"},
	)

	// PlaybackLiveNodes is the size of the in-flight playback set.
	PlaybackLiveNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_live_nodes",
			Help:      "Scheduled playback buffers that have not yet ended",
		},
	)

	// PlaybackLead is how far the cursor runs ahead of the output clock
	// when a buffer is scheduled.
	PlaybackLead = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_lead_seconds",
			Help:      "Cursor lead over the output clock at schedule time",
			Buckets:   []float64{0, .05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	// ForwardedTranscripts counts forwarder deliveries by sink and status.
	ForwardedTranscripts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_transcripts_total",
			Help:      "Transcript entries delivered to external sinks",
		},
		[]string{"sink", "status"}, // status: ok, error, dropped
	)

	// FeedClients is the number of connected feed websockets.
	FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Connected live feed clients",
		},
	)

	// GenerateRequests counts request/response generations by mode, model and status.
	GenerateRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_requests_total",
			Help:      "Request/response generation calls",
		},
		[]string{"mode", "model", "status"},
	)
)

var allMetrics = []prometheus.Collector{
	ChunksSent,
	ChunksDropped,
	AudioPackets,
	TranscriptFragments,
	TransportErrors,
	Sessions,
	SessionState,
	PlaybackLiveNodes,
	PlaybackLead,
	ForwardedTranscripts,
	FeedClients,
	GenerateRequests,
}

// NewRegistry returns a registry holding every collector plus the Go runtime
// and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SetState marks state as the current session state.
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}
