package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entitlement"

// Metrics 服务内的 Prometheus 指标，每个实例持有独立 Registry
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	lifecycleOps     *prometheus.CounterVec
	lifecycleLatency *prometheus.HistogramVec
	refundedAmount   *prometheus.CounterVec
	sweepDowngraded  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Lifecycle operations by action and outcome kind.",
		}, []string{"action", "outcome"}),
		lifecycleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Duration of lifecycle operations including the processor call.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"action"}),
		refundedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "refunded_minor_units_total",
			Help:      "Refunded amount in minor currency units.",
		}, []string{"currency"}),
		sweepDowngraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "downgraded_users_total",
			Help:      "Users downgraded to free after their paid period lapsed.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.lifecycleOps,
		m.lifecycleLatency,
		m.refundedAmount,
		m.sweepDowngraded,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecInFlight() { m.httpInFlight.Dec() }

// ObserveHTTP 记录一次 HTTP 请求，path 使用路由模板避免高基数
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveLifecycle 记录一次生命周期操作，outcome 为 "ok" 或错误类型
func (m *Metrics) ObserveLifecycle(action, outcome string, d time.Duration) {
	m.lifecycleOps.WithLabelValues(action, outcome).Inc()
	m.lifecycleLatency.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) AddRefunded(currency string, amount int64) {
	m.refundedAmount.WithLabelValues(currency).Add(float64(amount))
}

func (m *Metrics) AddDowngraded(n int64) {
	m.sweepDowngraded.Add(float64(n))
}
