// README: Prometheus instruments shared by the dispatch, settlement and job services.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	dispatches  *prometheus.CounterVec
	reverts     prometheus.Counter
	repairs     prometheus.Counter
	credits     *prometheus.CounterVec
	creditedAmt prometheus.Counter
	requests    *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	jobLatency  *prometheus.HistogramVec
	restarts    *prometheus.CounterVec
}

// New registers the collectors on reg (the default registerer when nil).
// Collectors already registered by a previous call are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_dispatch_total",
			Help: "Dispatch attempts by outcome",
		}, []string{"mode", "outcome"}),
		reverts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_assignment_timeouts_total",
			Help: "Assignments reverted to pending after the acceptance timeout",
		}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_driver_repairs_total",
			Help: "Drivers whose job fields were reconciled",
		}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_credits_total",
			Help: "Settlement attempts by source and result code",
		}, []string{"source", "result"}),
		creditedAmt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_credited_amount_total",
			Help: "Sum of driver shares credited",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_job_runs_total",
			Help: "Scheduled job runs by result",
		}, []string{"job", "result"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatchd_job_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_listener_restarts_total",
			Help: "Firestore listener restarts",
		}, []string{"listener"}),
	}
	var err error
	if m.dispatches, err = register(reg, m.dispatches); err != nil {
		return nil, err
	}
	if m.reverts, err = register(reg, m.reverts); err != nil {
		return nil, err
	}
	if m.repairs, err = register(reg, m.repairs); err != nil {
		return nil, err
	}
	if m.credits, err = register(reg, m.credits); err != nil {
		return nil, err
	}
	if m.creditedAmt, err = register(reg, m.creditedAmt); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.jobRuns, err = register(reg, m.jobRuns); err != nil {
		return nil, err
	}
	if m.jobLatency, err = register(reg, m.jobLatency); err != nil {
		return nil, err
	}
	if m.restarts, err = register(reg, m.restarts); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) Dispatch(mode, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) Reverted(n int) {
	if m == nil {
		return
	}
	m.reverts.Add(float64(n))
}

func (m *Metrics) Repaired(n int) {
	if m == nil {
		return
	}
	m.repairs.Add(float64(n))
}

// Credit counts a settlement attempt; result is "ok" or an error code.
func (m *Metrics) Credit(source, result string, amount int64) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues(source, result).Inc()
	if amount > 0 {
		m.creditedAmt.Add(float64(amount))
	}
}

func (m *Metrics) Request(method, route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) JobRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobLatency.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ListenerRestart(listener string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(listener).Inc()
}
