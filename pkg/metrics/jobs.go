package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records scheduled maintenance job runs.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	oversold prometheus.Gauge
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cron_job_duration_seconds",
		Help:    "Duration of maintenance jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_job_runs_total",
		Help: "Maintenance job runs by result.",
	}, []string{"job", "result"})
	oversold := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listings_oversold",
		Help: "Listings whose committed quantity exceeded capacity at the last audit.",
	})
	reg.MustRegister(duration, runs, oversold)
	return &JobMetrics{duration: duration, runs: runs, oversold: oversold}
}

func (m *JobMetrics) ObserveRun(job string, d time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(d.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.runs.WithLabelValues(job, result).Inc()
}

// SetOversold publishes the count found by the capacity audit.
func (m *JobMetrics) SetOversold(n int) {
	if m == nil || m.oversold == nil {
		return
	}
	m.oversold.Set(float64(n))
}
