// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pruned   prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on reg, or once on the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	defaultOnce.Do(func() { defaultMetrics = register(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_job_runs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_job_duration_seconds",
			Help:    "Job run duration by task type.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_pruned_total",
			Help: "Audit log rows removed by the retention job.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.pruned)
	return m
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil {
		return err
	}
	status := statusSuccess
	if err != nil {
		status = statusFailure
	}
	t.m.runs.WithLabelValues(t.job, status).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddPruned counts audit rows removed by the retention job.
func (m *Metrics) AddPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}

// Pruned exposes the pruned-rows counter.
func (m *Metrics) Pruned() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.pruned
}
