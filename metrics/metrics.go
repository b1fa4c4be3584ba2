// Package metrics holds the Prometheus collectors shared by the pipeline,
// the engine and the HTTP server. Everything registers on a private
// registry so tests and embedders do not collide with the global one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	DocumentsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workdesk",
		Name:      "documents_processed_total",
		Help:      "Documents run through the processor, by format and outcome.",
	}, []string{"format", "outcome"})

	ExtractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workdesk",
		Name:      "extraction_duration_seconds",
		Help:      "Time spent extracting and normalizing a document.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"format"})

	ChunksStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workdesk",
		Name:      "chunks_stored_total",
		Help:      "Chunks written to the store.",
	})

	EmbeddingRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workdesk",
		Name:      "embedding_requests_total",
		Help:      "Embedding calls to the LLM provider, by mode and outcome.",
	}, []string{"mode", "outcome"})

	ContextInjections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workdesk",
		Name:      "context_injections_total",
		Help:      "Chat prompts passed through the context injector.",
	}, []string{"injected"})

	SessionEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workdesk",
		Name:      "session_evictions_total",
		Help:      "Sessions dropped from the memory store, by reason.",
	}, []string{"reason"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workdesk",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workdesk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

func init() {
	Registry.MustRegister(
		DocumentsProcessed,
		ExtractionDuration,
		ChunksStored,
		EmbeddingRequests,
		ContextInjections,
		SessionEvictions,
		HTTPRequests,
		HTTPDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
