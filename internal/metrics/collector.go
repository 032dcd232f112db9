// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the engine's operational metrics.
type Collector struct {
	extractionsTotal  *prometheus.CounterVec
	candidatesTotal   *prometheus.CounterVec
	dedupHitsTotal    prometheus.Counter
	conflictsTotal    *prometheus.CounterVec
	indexFailures     prometheus.Counter
	reconcilerRepairs *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	retrievalDuration *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
}

// NewCollector registers the engine metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry to
// avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		extractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Extraction pipeline runs by outcome",
			},
			[]string{"outcome"}, // ok, llm_error, parse_error
		),
		candidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Extraction candidates by disposition",
			},
			[]string{"disposition"}, // stored, duplicate, invalid, low_confidence
		),
		dedupHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_hits_total",
				Help:      "Candidates dropped as near-duplicates",
			},
		),
		conflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_total",
				Help:      "Conflict classification results",
			},
			[]string{"result"}, // superseded, none, deferred
		),
		indexFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_failures_total",
				Help:      "Memories that exhausted index upsert retries",
			},
		),
		reconcilerRepairs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciler_repairs_total",
				Help:      "Reconciliation sweep repairs by kind",
			},
			[]string{"kind"}, // index, conflict, consolidation
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Profile/embedding cache hits",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Profile/embedding cache misses",
			},
		),
		retrievalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_duration_seconds",
				Help:      "Synchronous retrieval latency by intent",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "background_queue_depth",
				Help:      "Tasks waiting in the background worker pool",
			},
		),
	}
}

// RecordExtraction counts one extraction run.
func (c *Collector) RecordExtraction(outcome string) {
	c.extractionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCandidate counts one candidate disposition.
func (c *Collector) RecordCandidate(disposition string) {
	c.candidatesTotal.WithLabelValues(disposition).Inc()
}

// RecordDedupHit counts a candidate dropped as a near-duplicate.
func (c *Collector) RecordDedupHit() {
	c.dedupHitsTotal.Inc()
}

// RecordConflict counts one conflict classification result.
func (c *Collector) RecordConflict(result string) {
	c.conflictsTotal.WithLabelValues(result).Inc()
}

// RecordIndexFailure counts a memory entering INDEX_FAILED. This is the
// monitoring surface for memories reachable only by exact-id lookup.
func (c *Collector) RecordIndexFailure() {
	c.indexFailures.Inc()
}

// RecordRepair counts a reconciliation sweep repair.
func (c *Collector) RecordRepair(kind string) {
	c.reconcilerRepairs.WithLabelValues(kind).Inc()
}

// RecordCache counts a cache hit or miss.
func (c *Collector) RecordCache(hit bool) {
	if hit {
		c.cacheHits.Inc()
	} else {
		c.cacheMisses.Inc()
	}
}

// ObserveRetrieval records one synchronous retrieval.
func (c *Collector) ObserveRetrieval(intent string, elapsed time.Duration) {
	c.retrievalDuration.WithLabelValues(intent).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the worker pool queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}
