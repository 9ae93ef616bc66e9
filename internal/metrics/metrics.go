// Package metrics exposes Prometheus collectors for the HTTP surface, QR
// scanning and the background jobs. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mess"

// Metrics groups every collector the service records.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	scans        *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	frozen       prometheus.Counter
	finesIssued  prometheus.Counter
	expired      prometheus.Counter
}

// New creates the collectors and registers them with reg. When reg is nil the
// collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "qr_scans_total",
				Help:      "QR scans by outcome",
			},
			[]string{"outcome"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Background job runs by job and result",
			},
			[]string{"job", "result"},
		),
		frozen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_frozen_total",
			Help:      "Confirmations frozen by the deadline engine",
		}),
		finesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offense_fines_issued_total",
			Help:      "Multiple offense fines created by assessment runs",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_expired_total",
			Help:      "Subscriptions moved to expired by the sweeper",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.httpRequests, m.httpDuration, m.scans, m.jobRuns, m.frozen, m.finesIssued, m.expired)
	}
	return m
}

// ObserveRequest records one HTTP request. route should be the route
// template, not the raw path.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveScan counts a scan attempt. outcome is "ok" or an error kind.
func (m *Metrics) ObserveScan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

// ObserveJob counts a job run as "ok" or "error".
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) AddFrozen(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.frozen.Add(float64(n))
}

func (m *Metrics) AddFinesIssued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.finesIssued.Add(float64(n))
}

func (m *Metrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}
