// Package obsv wires Prometheus metrics and OpenTelemetry tracing for the
// call-handling pipeline: turn counts, snoop-channel state, webhook and RUT
// capture outcomes, and a span per call.
package obsv

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telephony_core"

var (
	TurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Turns run by the dialog engine, labeled by outcome.",
	}, []string{"outcome"})

	TurnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of a single dialog turn.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_calls",
		Help:      "Calls currently owned by the engine runner.",
	})

	SnoopChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snoop_channels_active",
		Help:      "Snoop channels currently tracked by the snoop store.",
	})

	WebhookOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_outcomes_total",
		Help:      "Webhook deliveries, labeled by outcome (accepted, rejected, error).",
	}, []string{"outcome"})

	WebhookDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_duration_seconds",
		Help:      "Latency of outbound webhook calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	RUTCaptureResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rut_capture_results_total",
		Help:      "RUT capture attempts, labeled by trigger and acceptance.",
	}, []string{"trigger", "accepted"})

	SegmentsTranscribed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_transcribed_total",
		Help:      "Continuous-recording segments run through batch transcription, labeled by outcome.",
	}, []string{"outcome"})
)

var allMetrics = []prometheus.Collector{
	TurnsTotal,
	TurnDuration,
	ActiveCalls,
	SnoopChannelsActive,
	WebhookOutcomes,
	WebhookDuration,
	RUTCaptureResults,
	SegmentsTranscribed,
}

// RecordTurn records a completed dialog turn's outcome and duration.
func RecordTurn(outcome string, d time.Duration) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordWebhook records one outbound webhook delivery.
func RecordWebhook(outcome string, d time.Duration) {
	WebhookOutcomes.WithLabelValues(outcome).Inc()
	WebhookDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordRUTCapture records one RUT capture attempt.
func RecordRUTCapture(trigger string, accepted bool) {
	RUTCaptureResults.WithLabelValues(trigger, boolLabel(accepted)).Inc()
}

// RecordSegmentTranscribed records one batch-transcribed continuous-recording segment.
func RecordSegmentTranscribed(outcome string) {
	SegmentsTranscribed.WithLabelValues(outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// defaultReadHeaderTimeout bounds how long the metrics server waits to read
// request headers, closing off a slow-client resource hold.
const defaultReadHeaderTimeout = 10 * time.Second

// Exporter serves the registered metrics over HTTP.
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	mu       sync.Mutex
	server   *http.Server
	started  bool
}

// NewExporter builds an Exporter serving every metric in this package plus
// the standard Go runtime and process collectors.
func NewExporter(addr string) *Exporter {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Exporter{addr: addr, registry: reg}
}

// Registry returns the underlying registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an http.Handler for the metrics endpoint, for embedding
// into an existing HTTP server instead of running a standalone one.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Start begins serving /metrics. It blocks until the server stops, returning
// http.ErrServerClosed on a graceful Shutdown.
func (e *Exporter) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	e.mu.Unlock()

	return e.server.ListenAndServe()
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil && e.started {
		e.started = false
		return e.server.Shutdown(ctx)
	}
	return nil
}
