package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/permit-engine/pricing"
)

// =============================================================================
// METRICS - Prometheus collectors served on /metrics
// =============================================================================

// Metrics owns its registry so several routers (tests) can coexist.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ordersTotal     *prometheus.CounterVec
	refundsTotal    prometheus.Counter
	refundedAmount  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "permits",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration observed at the API layer.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "permits",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled by the API.",
			},
			[]string{"method", "route", "status"},
		),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "permits",
				Name:      "orders_created_total",
				Help:      "Orders created, by order type and status at creation.",
			},
			[]string{"type", "status"},
		),
		refundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permits",
			Name:      "refunds_created_total",
			Help:      "Refunds created for ended or cheaper permits.",
		}),
		refundedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permits",
			Name:      "refunded_amount_total",
			Help:      "Sum of refund amounts created, VAT included.",
		}),
	}
	m.registry.MustRegister(
		m.requestDuration, m.requestTotal, m.ordersTotal, m.refundsTotal, m.refundedAmount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records every request under its chi route pattern, so
// /api/permits/{id} is one series regardless of the id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

func (m *Metrics) OrderCreated(order *pricing.Order) {
	m.ordersTotal.WithLabelValues(string(order.Type), string(order.Status)).Inc()
}

func (m *Metrics) RefundCreated(refund *pricing.Refund) {
	m.refundsTotal.Inc()
	m.refundedAmount.Add(refund.Amount.InexactFloat64())
}
