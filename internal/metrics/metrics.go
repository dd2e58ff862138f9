// Package metrics declares the Prometheus collectors for the preview pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tinkerpen"

var (
	Commits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_commits_total",
		Help:      "Document set commits accepted by the store.",
	})
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_persist_failures_total",
		Help:      "Best-effort persistence writes that failed and were dropped.",
	}, []string{"backend"})
	LoadFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_load_fallbacks_total",
		Help:      "Loads that fell back to the default document set.",
	})
	CoalescedEdits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coalescer_superseded_edits_total",
		Help:      "Edits replaced by a newer edit inside the quiet period.",
	})
	Recompositions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preview_recompositions_total",
		Help:      "Composed preview documents produced.",
	})
	SandboxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sandbox_errors_total",
		Help:      "Sandboxed executions that ended in an uncaught exception or timeout.",
	}, []string{"reason"})
	ConsoleRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "console_records_total",
		Help:      "Console records appended by the telemetry bridge.",
	})
	IgnoredMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "telemetry_ignored_messages_total",
		Help:      "Inbound sandbox messages discarded by the telemetry bridge.",
	}, []string{"reason"})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients_active",
		Help:      "Connected editor shells.",
	})
)
