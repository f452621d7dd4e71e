// Package metrics exposes Prometheus collectors for ingestion, detection and
// reputation lookups.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeParsed    = "parsed"
	OutcomeSkipped   = "skipped"
	OutcomeEncoded   = "encoded"
	OutcomeRejected  = "rejected"
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeCached    = "cached"
	OutcomeError     = "error"
)

// Update file formats.
const (
	FormatMRT = "mrt"
	FormatRIS = "ris"
)

const namespace = "bgp_shortlived"

var (
	ingestFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_files_total",
			Help:      "Update files processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ingestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Route events seen by the encoder, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	parseSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_skipped_records_total",
			Help:      "Update file records that could not be decoded, partitioned by format.",
		},
		[]string{"format"},
	)

	loadBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_batches_total",
			Help:      "Bulk-load batches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectChunkSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_chunk_seconds",
			Help:      "Short-lived detection sub-query latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	detectFindingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_findings_total",
			Help:      "Potential hijacks yielded by the detection engine.",
		},
	)

	reputationLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_lookups_total",
			Help:      "Reputation lookups, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ingestFilesTotal,
		ingestEventsTotal,
		parseSkippedTotal,
		loadBatchesTotal,
		detectChunkSeconds,
		detectFindingsTotal,
		reputationLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveFile counts one update file.
func ObserveFile(outcome string) {
	ingestFilesTotal.WithLabelValues(outcome).Inc()
}

// AddEvents counts n route events.
func AddEvents(outcome string, n int) {
	if n <= 0 {
		return
	}
	ingestEventsTotal.WithLabelValues(outcome).Add(float64(n))
}

// AddSkippedRecords counts n undecodable records of one update file.
func AddSkippedRecords(format string, n int) {
	if n <= 0 {
		return
	}
	parseSkippedTotal.WithLabelValues(format).Add(float64(n))
}

// ObserveBatch counts one load batch.
func ObserveBatch(outcome string) {
	loadBatchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveChunk records one detection sub-query.
func ObserveChunk(duration time.Duration, findings int) {
	if duration < 0 {
		duration = 0
	}
	detectChunkSeconds.Observe(duration.Seconds())
	if findings > 0 {
		detectFindingsTotal.Add(float64(findings))
	}
}

// ObserveLookup counts one reputation lookup.
func ObserveLookup(outcome string) {
	reputationLookupsTotal.WithLabelValues(outcome).Inc()
}
