package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medislot"

// SchedulingMetrics counts booking, payment and session outcomes.
// A nil receiver is valid and records nothing.
type SchedulingMetrics struct {
	bookingsTotal        *prometheus.CounterVec
	cancellationsTotal   *prometheus.CounterVec
	refundsTotal         *prometheus.CounterVec
	reconciliationsTotal *prometheus.CounterVec
	gatewayCallsTotal    *prometheus.CounterVec
	roomsTotal           *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpLatency          *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointment",
			Name:      "cancellations_total",
			Help:      "Cancelled appointments by actor role and refund decision",
		}, []string{"role", "refunded"}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "refunds_total",
			Help:      "Refund requests sent to the gateway by result",
		}, []string{"result"}),
		reconciliationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "reconciliations_total",
			Help:      "Payment reconciliations by outcome",
		}, []string{"outcome"}),
		gatewayCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and result",
		}, []string{"operation", "result"}),
		roomsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "room_provisioning_total",
			Help:      "Consultation room provisioning attempts by result",
		}, []string{"result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status",
		}, []string{"method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.cancellationsTotal,
		m.refundsTotal,
		m.reconciliationsTotal,
		m.gatewayCallsTotal,
		m.roomsTotal,
		m.httpRequestsTotal,
		m.httpLatency,
	)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCancellation(role string, refunded bool) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(role, strconv.FormatBool(refunded)).Inc()
}

func (m *SchedulingMetrics) ObserveRefund(result string) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliationsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveGatewayCall(operation string, err error) {
	if m == nil {
		return
	}
	m.gatewayCallsTotal.WithLabelValues(operation, result(err)).Inc()
}

func (m *SchedulingMetrics) ObserveRoom(err error) {
	if m == nil {
		return
	}
	m.roomsTotal.WithLabelValues(result(err)).Inc()
}

// Instrument records request counts and latency for every request passing through next.
func (m *SchedulingMetrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpLatency.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
