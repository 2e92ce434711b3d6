package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron run results.
const (
	CronSucceeded = "succeeded"
	CronFailed    = "failed"
)

// CronMetrics describes the sweeper ticks run by the cron worker.
type CronMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rows        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	lockSkipped prometheus.Counter
}

func NewCronMetrics(reg prometheus.Registerer) *CronMetrics {
	if reg == nil {
		return &CronMetrics{}
	}
	m := &CronMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "runs_total",
			Help:      "Job executions by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "run_seconds",
			Help:      "Wall time of a single job execution.",
			Buckets:   []float64{.005, .025, .1, .25, 1, 2.5, 10, 30},
		}, []string{"job"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "rows_total",
			Help:      "Rows changed by a job, such as orders expired or outbox rows purged.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		lockSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "lock_skipped_total",
			Help:      "Ticks skipped because another replica held the lock.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.rows, m.lastSuccess, m.lockSkipped)
	return m
}

// ObserveRun records one execution of job that finished at end.
func (m *CronMetrics) ObserveRun(job string, end time.Time, took time.Duration, rows int, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if rows > 0 {
		m.rows.WithLabelValues(job).Add(float64(rows))
	}
	if err != nil {
		m.runs.WithLabelValues(job, CronFailed).Inc()
		return
	}
	m.runs.WithLabelValues(job, CronSucceeded).Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(end.Unix()))
}

func (m *CronMetrics) IncLockSkipped() {
	if m == nil || m.lockSkipped == nil {
		return
	}
	m.lockSkipped.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
