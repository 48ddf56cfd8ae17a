// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "puzzlebounty"

// Metrics holds the payment-core collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	depositsCreated   *prometheus.CounterVec
	depositsSettled   *prometheus.CounterVec
	withdrawals       *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	solveAttempts     *prometheus.CounterVec
	oracleLookups     *prometheus.CounterVec
	railCallDuration  *prometheus.HistogramVec
	sweepRuns         *prometheus.CounterVec
	sweepMatched      prometheus.Counter
	sweepExpired      prometheus.Counter
	sweepLastRunUnix  prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpRequestLength *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		depositsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "created_total",
			Help:      "Deposits created, partitioned by rail.",
		}, []string{"rail"}),
		depositsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "settled_total",
			Help:      "Deposit confirmations, partitioned by rail and outcome.",
		}, []string{"rail", "outcome"}),
		withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "total",
			Help:      "Withdrawals, partitioned by rail and outcome.",
		}, []string{"rail", "outcome"}),
		compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "compensations_total",
			Help:      "Reservation debits reversed after a failed transfer.",
		}, []string{"rail"}),
		solveAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "puzzles",
			Name:      "attempts_total",
			Help:      "Solve attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		oracleLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "lookups_total",
			Help:      "Price lookups, partitioned by asset and source (cache, live, stale, fallback).",
		}, []string{"asset", "source"}),
		railCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rail",
			Name:      "call_duration_seconds",
			Help:      "Latency of rail adapter calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rail", "op", "result"}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Sweeper runs partitioned by result.",
		}, []string{"result"}),
		sweepMatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "matched_total",
			Help:      "Pending deposits completed by passive matching.",
		}),
		sweepExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Pending deposits cancelled after expiry.",
		}),
		sweepLastRunUnix: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "last_run_unix",
			Help:      "Unix time of the most recent sweep.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests partitioned by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpRequestLength: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) DepositCreated(rail string) {
	if m == nil {
		return
	}
	m.depositsCreated.WithLabelValues(rail).Inc()
}

func (m *Metrics) DepositSettled(rail, outcome string) {
	if m == nil {
		return
	}
	m.depositsSettled.WithLabelValues(rail, outcome).Inc()
}

func (m *Metrics) Withdrawal(rail, outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(rail, outcome).Inc()
}

func (m *Metrics) Compensation(rail string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(rail).Inc()
}

func (m *Metrics) SolveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.solveAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OracleLookup(asset, source string) {
	if m == nil {
		return
	}
	m.oracleLookups.WithLabelValues(asset, source).Inc()
}

func (m *Metrics) ObserveRailCall(rail, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.railCallDuration.WithLabelValues(rail, op, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveSweep(matched, expired int, err error, at time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepMatched.Add(float64(matched))
	m.sweepExpired.Add(float64(expired))
	m.sweepLastRunUnix.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.httpRequestLength.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
