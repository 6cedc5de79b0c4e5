package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pgbackup/corebackup/pkg/verify"
)

// VerifyMetrics observes the verify engine's per-job outcomes and job
// duration. A nil *VerifyMetrics is valid and every method is a no-op, so
// callers can wire it unconditionally and let NewVerifyMetrics decide
// whether collection is actually enabled.
type VerifyMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewVerifyMetrics returns a Prometheus-backed VerifyMetrics, or nil if
// metrics are not enabled (InitRegistry not called).
func NewVerifyMetrics() *VerifyMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &VerifyMetrics{
		jobsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebackup_verify_jobs_total",
				Help: "Total number of verify jobs by outcome.",
			},
			[]string{"outcome"},
		),
		jobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "corebackup_verify_job_duration_seconds",
				Help: "Duration of a single verify job, including retries.",
				Buckets: []float64{
					0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30,
				},
			},
			[]string{"outcome"},
		),
	}
}

// ObserveJob records one completed verify job's outcome and duration.
func (m *VerifyMetrics) ObserveJob(outcome verify.Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	label := outcome.String()
	m.jobsTotal.WithLabelValues(label).Inc()
	m.jobDuration.WithLabelValues(label).Observe(duration.Seconds())
}
