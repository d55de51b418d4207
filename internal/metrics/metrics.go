package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poller, enrichment and notification collectors, partitioned by chain id.

var (
	// Poller
	PollerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Total poller ticks",
	}, []string{"chain"})

	PollerTickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "poller",
		Name:      "tick_errors_total",
		Help:      "Total poller ticks aborted by an RPC or persistence error",
	}, []string{"chain", "stage"})

	PollerTickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "echopay",
		Subsystem: "poller",
		Name:      "tick_duration_seconds",
		Help:      "Poller tick processing duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"chain"})

	PollerLogsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "poller",
		Name:      "logs_skipped_total",
		Help:      "Total logs that failed to decode as receipt events",
	}, []string{"chain"})

	PollerCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "echopay",
		Subsystem: "poller",
		Name:      "cursor_block",
		Help:      "Last fully processed block",
	}, []string{"chain"})

	PollerHead = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "echopay",
		Subsystem: "poller",
		Name:      "head_block",
		Help:      "Latest chain head seen by the poller",
	}, []string{"chain"})

	// Receipts
	ReceiptsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "receipts",
		Name:      "ingested_total",
		Help:      "Total receipt upserts by outcome (inserted or duplicate)",
	}, []string{"chain", "outcome"})

	// Enrichment
	EnrichmentUnresolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "enrich",
		Name:      "unresolved_total",
		Help:      "Total receipts stored with an unresolved enrichment field",
	}, []string{"field"})

	// Notification
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Total receipt notifications delivered",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Total receipt notifications that failed",
	})

	// API
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echopay",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP API requests by route and status",
	}, []string{"route", "status"})
)
