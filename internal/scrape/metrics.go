package scrape

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutcomesTotal counts processed IDs by outcome kind.
	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqscan_outcomes_total",
		Help: "The total number of scanned IDs, labeled by outcome.",
	}, []string{"outcome"})
	// BoundaryProbesTotal counts probes issued during boundary discovery.
	BoundaryProbesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqscan_boundary_probes_total",
		Help: "The total number of probes issued while locating the boundary ID.",
	})
	// ListingsIngested counts listings handed to the batch buffer.
	ListingsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqscan_listings_ingested_total",
		Help: "The total number of listings buffered for persistence.",
	})
	// FlushesTotal counts persisted chunks.
	FlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqscan_flushes_total",
		Help: "The total number of chunk upserts issued to storage.",
	})
	// FlushFailures counts failed chunk upserts.
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqscan_flush_failures_total",
		Help: "The total number of chunk upserts that failed.",
	})
	// DeadLettered counts records routed to the dead-letter sink after a
	// persistence failure.
	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqscan_dead_lettered_records_total",
		Help: "The total number of records handed to the dead-letter sink.",
	})
	// LastProcessedID tracks the high-water mark of processed IDs.
	LastProcessedID = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seqscan_last_processed_id",
		Help: "The highest source ID processed by the current run.",
	})
)
