// Package metrics содержит Prometheus-метрики консоли.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы загрузки страницы кэша.
const (
	LoadApplied    = "applied"
	LoadSuperseded = "superseded"
	LoadFailed     = "failed"
)

// ConsoleMetrics содержит метрики кэша, смены статусов и сессий.
// Методы безопасно вызывать на nil-получателе.
type ConsoleMetrics struct {
	cacheLoads         *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	transitionDuration prometheus.Histogram
	openSessions       prometheus.Gauge
}

// New регистрирует метрики в registerer. nil означает prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *ConsoleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ConsoleMetrics{
		cacheLoads: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "console_cache_loads_total",
			Help: "Total number of order page loads by outcome",
		}, []string{"outcome"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "console_transitions_total",
			Help: "Total number of order status transition requests by outcome",
		}, []string{"outcome"}),
		transitionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "console_transition_duration_seconds",
			Help:    "Duration of order status transition requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		openSessions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "console_open_sessions",
			Help: "Number of currently open staff sessions",
		}),
	}
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

// RecordCacheLoad учитывает завершённую загрузку страницы.
func (m *ConsoleMetrics) RecordCacheLoad(outcome string) {
	if m == nil {
		return
	}
	m.cacheLoads.WithLabelValues(outcome).Inc()
}

// RecordTransition учитывает запрос смены статуса и его длительность.
// outcome — "ok" или вид ошибки из model.Kind.
func (m *ConsoleMetrics) RecordTransition(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(outcome).Inc()
	m.transitionDuration.Observe(duration.Seconds())
}

// SessionOpened увеличивает число открытых сессий.
func (m *ConsoleMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

// SessionClosed уменьшает число открытых сессий.
func (m *ConsoleMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}
