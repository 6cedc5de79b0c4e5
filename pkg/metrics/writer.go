package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pgbackup/corebackup/pkg/blockwriter"
)

// WriterMetrics implements blockwriter.Metrics: it counts deduped versus
// freshly-written blocks and exposes their ratio as a gauge.
type WriterMetrics struct {
	blocksTotal *prometheus.CounterVec
	dedupRatio  prometheus.Gauge

	hits, total uint64
}

// NewWriterMetrics returns a Prometheus-backed WriterMetrics as a
// blockwriter.Metrics, or nil if metrics are not enabled.
func NewWriterMetrics() blockwriter.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	m := &WriterMetrics{
		blocksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebackup_writer_blocks_total",
				Help: "Total number of blocks written, by whether they were deduped.",
			},
			[]string{"deduped"},
		),
		dedupRatio: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corebackup_writer_dedup_ratio",
				Help: "Fraction of written blocks served from the dedup index, updated incrementally.",
			},
		),
	}
	return m
}

// RecordBlock implements blockwriter.Metrics.
func (m *WriterMetrics) RecordBlock(deduped bool) {
	if m == nil {
		return
	}
	m.total++
	label := "false"
	if deduped {
		m.hits++
		label = "true"
	}
	m.blocksTotal.WithLabelValues(label).Inc()
	m.dedupRatio.Set(float64(m.hits) / float64(m.total))
}

var _ blockwriter.Metrics = (*WriterMetrics)(nil)
