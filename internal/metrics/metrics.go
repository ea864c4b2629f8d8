package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for the transaction engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatherer          prometheus.Gatherer
	checkouts         *prometheus.CounterVec
	checkoutFailures  *prometheus.CounterVec
	checkoutDuration  prometheus.Histogram
	alertsRaised      *prometheus.CounterVec
	allocationShort   prometheus.Counter
	cashDifference    prometheus.Histogram
	pendingWebOrders  prometheus.Gauge
	webOrdersDetected prometheus.Counter
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_checkouts_total",
			Help: "Completed checkouts partitioned by payment method and order type.",
		}, []string{"method", "order_type"}),
		checkoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_checkout_failures_total",
			Help: "Rejected or failed checkouts partitioned by error kind.",
		}, []string{"reason"}),
		checkoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_checkout_duration_seconds",
			Help:    "Checkout latency including the database transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_stock_alerts_raised_total",
			Help: "Stock alerts raised or escalated, by alert type.",
		}, []string{"type"}),
		allocationShort: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_allocation_shortfall_units_total",
			Help: "Units requested from a location that did not hold them.",
		}),
		cashDifference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_session_cash_difference_cents",
			Help:    "Counted minus expected cash at session close.",
			Buckets: []float64{-100000, -10000, -1000, -100, 0, 100, 1000, 10000, 100000},
		}),
		pendingWebOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pos_web_orders_pending",
			Help: "Online orders waiting to be claimed at a terminal.",
		}),
		webOrdersDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_web_orders_detected_total",
			Help: "Newly arrived online orders seen by the poller.",
		}),
	}
	reg.MustRegister(
		m.checkouts,
		m.checkoutFailures,
		m.checkoutDuration,
		m.alertsRaised,
		m.allocationShort,
		m.cashDifference,
		m.pendingWebOrders,
		m.webOrdersDetected,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CheckoutCompleted(method string, orderType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(method, orderType).Inc()
	m.checkoutDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CheckoutFailed(reason string) {
	if m == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) StockAlertRaised(alertType string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType).Inc()
}

func (m *Metrics) AllocationShortfall(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.allocationShort.Add(float64(units))
}

func (m *Metrics) SessionClosed(differenceCents int64) {
	if m == nil {
		return
	}
	m.cashDifference.Observe(float64(differenceCents))
}

func (m *Metrics) PendingWebOrders(count int, detected int) {
	if m == nil {
		return
	}
	m.pendingWebOrders.Set(float64(count))
	if detected > 0 {
		m.webOrdersDetected.Add(float64(detected))
	}
}
