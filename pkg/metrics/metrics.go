// Package metrics holds the Prometheus collectors shared across
// cowrite's components, registered against the default registry so a
// single promhttp.Handler at /api/metrics exposes all of them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cowrite_active_documents",
		Help: "Number of documents currently resident in the registry.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cowrite_connected_clients",
		Help: "Number of currently open WebSocket connections.",
	})

	EditsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cowrite_edits_applied_total",
		Help: "Number of edit operations successfully applied to a document.",
	})

	EditsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cowrite_edits_rejected_total",
		Help: "Number of edit operations rejected (stale revision, oversized document, algebra error).",
	})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cowrite_persistence_failures_total",
		Help: "Number of failed attempts to write a document snapshot to durable storage.",
	})

	DocumentsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cowrite_documents_evicted_total",
		Help: "Number of documents removed by the registry janitor for being idle past their expiry horizon.",
	})
)
