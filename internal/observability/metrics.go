package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sterna"

type moduleMetrics struct {
	eventsTotal     *prometheus.CounterVec
	decisionsTotal  *prometheus.CounterVec
	injectionsTotal *prometheus.CounterVec
	scansTotal      *prometheus.CounterVec
	primeDuration   *prometheus.HistogramVec
	deliverDuration *prometheus.HistogramVec
	trackedSessions prometheus.Gauge
	taskPanicsTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			eventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "host_events_total",
					Help:      "Host events received by type.",
				},
				[]string{"type"},
			),
			decisionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "injection_decisions_total",
					Help:      "Injection decisions by trigger and decision.",
				},
				[]string{"trigger", "decision"},
			),
			injectionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "injections_total",
					Help:      "Injection attempts by trigger and outcome.",
				},
				[]string{"trigger", "outcome"},
			),
			scansTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "history_scans_total",
					Help:      "Session history scans by purpose and result.",
				},
				[]string{"purpose", "result"},
			),
			primeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "prime_duration_seconds",
					Help:      "Priming command duration in seconds by status.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			deliverDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "delivery_duration_seconds",
					Help:      "Context message delivery duration in seconds by status.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			trackedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "tracked_sessions",
					Help:      "Sessions marked as injected in this process.",
				},
			),
			taskPanicsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "event_task_panics_total",
					Help:      "Event handler tasks that panicked and were recovered.",
				},
			),
		}

		prometheus.MustRegister(
			m.eventsTotal,
			m.decisionsTotal,
			m.injectionsTotal,
			m.scansTotal,
			m.primeDuration,
			m.deliverDuration,
			m.trackedSessions,
			m.taskPanicsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordHostEvent(eventType string) {
	getMetrics().eventsTotal.WithLabelValues(eventType).Inc()
}

func RecordDecision(trigger, decision string) {
	getMetrics().decisionsTotal.WithLabelValues(trigger, decision).Inc()
}

func RecordInjection(trigger, outcome string) {
	getMetrics().injectionsTotal.WithLabelValues(trigger, outcome).Inc()
}

func RecordHistoryScan(purpose, result string) {
	getMetrics().scansTotal.WithLabelValues(purpose, result).Inc()
}

func RecordPrime(duration time.Duration, success bool) {
	getMetrics().primeDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

func RecordDelivery(duration time.Duration, success bool) {
	getMetrics().deliverDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetTrackedSessions(count int) {
	getMetrics().trackedSessions.Set(float64(count))
}

func RecordTaskPanic() {
	getMetrics().taskPanicsTotal.Inc()
}
