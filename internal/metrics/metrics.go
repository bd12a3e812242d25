// Package metrics exposes Prometheus instrumentation for the rotation
// engine. Registration is guarded by sync.Once so tests and embedders can
// construct the recorder freely without duplicate-registration panics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       *prometheus.HistogramVec
	rollbackTotal          *prometheus.CounterVec
	schedulerTicksTotal    prometheus.Counter
	policiesDueGauge       prometheus.Gauge
	staleSweptTotal        prometheus.Counter
	notificationDropsTotal prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder provides methods to record rotation engine metrics.
type Recorder struct{}

// NewRecorder creates a Recorder. Metrics report nothing until Init has
// been called.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Init registers all Prometheus metrics. Call once at startup when the
// metrics endpoint is enabled.
func Init() {
	metricsOnce.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrot_rotation_started_total",
				Help: "Total number of rotation cycles started",
			},
			[]string{"tenant", "provider"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrot_rotation_completed_total",
				Help: "Total number of rotation cycles completed",
			},
			[]string{"tenant", "provider", "status"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyrot_rotation_duration_seconds",
				Help:    "Duration of rotation cycles in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"provider"},
		)

		rollbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrot_rollback_total",
				Help: "Total number of rollback operations",
			},
			[]string{"tenant", "outcome"},
		)

		schedulerTicksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keyrot_scheduler_ticks_total",
				Help: "Total number of scheduler scan cycles",
			},
		)

		policiesDueGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keyrot_policies_due",
				Help: "Policies found due on the most recent scan",
			},
		)

		staleSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keyrot_stale_records_swept_total",
				Help: "Pending audit records failed by the crash-recovery sweep",
			},
		)

		notificationDropsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keyrot_notification_drops_total",
				Help: "Notifications dropped because the delivery queue was full",
			},
		)

		metricsRegistered = true
	})
}

// RecordRotationStarted records a rotation cycle start.
func (r *Recorder) RecordRotationStarted(tenant, provider string) {
	if !metricsRegistered || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues(tenant, provider).Inc()
}

// RecordRotationCompleted records a terminal rotation outcome.
func (r *Recorder) RecordRotationCompleted(tenant, provider, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if rotationCompletedTotal != nil {
		rotationCompletedTotal.WithLabelValues(tenant, provider, status).Inc()
	}
	if rotationDuration != nil {
		rotationDuration.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// RecordRollback records a rollback attempt outcome.
func (r *Recorder) RecordRollback(tenant, outcome string) {
	if !metricsRegistered || rollbackTotal == nil {
		return
	}
	rollbackTotal.WithLabelValues(tenant, outcome).Inc()
}

// RecordTick records one scheduler scan cycle and the due count it found.
func (r *Recorder) RecordTick(policiesDue int) {
	if !metricsRegistered {
		return
	}
	if schedulerTicksTotal != nil {
		schedulerTicksTotal.Inc()
	}
	if policiesDueGauge != nil {
		policiesDueGauge.Set(float64(policiesDue))
	}
}

// RecordStaleSweep records pending records failed by the recovery sweep.
func (r *Recorder) RecordStaleSweep(count int) {
	if !metricsRegistered || staleSweptTotal == nil || count == 0 {
		return
	}
	staleSweptTotal.Add(float64(count))
}

// RecordNotificationDrop records a dropped notification.
func (r *Recorder) RecordNotificationDrop() {
	if !metricsRegistered || notificationDropsTotal == nil {
		return
	}
	notificationDropsTotal.Inc()
}

// IsRegistered returns whether metrics have been initialized.
func IsRegistered() bool {
	return metricsRegistered
}
