package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы scope для метки outcome.
const (
	OutcomeCommitted   = "commit"
	OutcomeRolledBack  = "rollback"
	OutcomeCommitError = "commit_error"
	OutcomePanic       = "panic"
)

// Стадии потоковой выгрузки для метки stage.
const (
	StageOpen      = "open"
	StageIterate   = "iterate"
	StageSerialize = "serialize"
	StageRelease   = "release"
)

// OrderMetrics содержит метрики scope и потоковой выгрузки заказов.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	scopesTotal    *prometheus.CounterVec
	scopesActive   prometheus.Gauge
	scopeDuration  prometheus.Histogram
	ordersStreamed prometheus.Counter
	ordersAdded    prometheus.Counter
	streamFailures *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в глобальном registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		scopesTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_scopes_total",
			Help: "Total number of storage scopes finished, by outcome",
		}, []string{"outcome"}),
		scopesActive: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_scopes_active",
			Help: "Number of currently open storage scopes",
		}),
		scopeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orders_scope_duration_seconds",
			Help:    "Lifetime of storage scopes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
		}),
		ordersStreamed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_streamed_total",
			Help: "Total number of orders written to list streams",
		}),
		ordersAdded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_added_total",
			Help: "Total number of orders persisted",
		}),
		streamFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_stream_failures_total",
			Help: "Total number of failed list streams, by stage",
		}, []string{"stage"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// ScopeOpened увеличивает число открытых scope.
func (m *OrderMetrics) ScopeOpened() {
	if m == nil {
		return
	}
	m.scopesActive.Inc()
}

// ScopeClosed фиксирует исход и длительность scope.
func (m *OrderMetrics) ScopeClosed(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.scopesActive.Dec()
	m.scopesTotal.WithLabelValues(outcome).Inc()
	m.scopeDuration.Observe(duration.Seconds())
}

// OrdersStreamed добавляет n отданных клиенту заказов.
func (m *OrderMetrics) OrdersStreamed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ordersStreamed.Add(float64(n))
}

func (m *OrderMetrics) OrderAdded() {
	if m == nil {
		return
	}
	m.ordersAdded.Inc()
}

// StreamFailed увеличивает счётчик сбоев выгрузки на указанной стадии.
func (m *OrderMetrics) StreamFailed(stage string) {
	if m == nil {
		return
	}
	m.streamFailures.WithLabelValues(stage).Inc()
}
