package fanout

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	duration   prometheus.Histogram
	inFlight   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notification",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery outcomes by result and failure reason.",
		}, []string{"result", "reason"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notification",
			Name:      "dispatches_total",
			Help:      "Completed dispatches by report status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "notification",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a dispatch from resolution to the last outcome.",
			Buckets:   prometheus.DefBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "notification",
			Name:      "deliveries_in_flight",
			Help:      "Gateway calls currently in progress.",
		}),
	}
	reg.MustRegister(m.deliveries, m.dispatches, m.duration, m.inFlight)
	return m
}

func (m *Metrics) observeDelivery(o notification.DeliveryOutcome) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(o.Result), string(o.Reason)).Inc()
}

func (m *Metrics) observeCancelled(n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.WithLabelValues(string(notification.ResultFailure), string(notification.ReasonCancelled)).Add(float64(n))
}

func (m *Metrics) observeDispatch(status notification.ReportStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(string(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) deliveryStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) deliveryFinished() {
	if m != nil {
		m.inFlight.Dec()
	}
}
