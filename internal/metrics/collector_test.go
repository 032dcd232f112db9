package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewCollector("memflow", reg), reg
}

func TestCollector_Counters(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector()

	c.RecordExtraction("ok")
	c.RecordExtraction("ok")
	c.RecordExtraction("llm_error")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.extractionsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.extractionsTotal.WithLabelValues("llm_error")))

	c.RecordDedupHit()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dedupHitsTotal))

	c.RecordConflict("superseded")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflictsTotal.WithLabelValues("superseded")))

	c.RecordIndexFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.indexFailures))

	c.RecordCache(true)
	c.RecordCache(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses))
}

func TestCollector_GaugeAndHistogram(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector()

	c.SetQueueDepth(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))

	// Histogram observation must not panic and must register the label.
	c.ObserveRetrieval("specific", 25*time.Millisecond)
}
