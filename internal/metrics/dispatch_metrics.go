package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics содержит метрики обработки платёжных сессий.
type DispatchMetrics struct {
	// Счётчики исходов обработки
	dispatchSucceeded   prometheus.Counter
	dispatchFailed      prometheus.Counter
	dispatchCompensated prometheus.Counter
	deadLettered        prometheus.Counter
	reconciled          *prometheus.CounterVec

	// Гистограмма времени обработки события
	dispatchDuration prometheus.Histogram

	// Gauge состояния backlog
	pendingEvents        prometheus.Gauge
	deadLetterUnresolved prometheus.Gauge
}

// NewDispatchMetrics создаёт новый экземпляр метрик обработки.
func NewDispatchMetrics() *DispatchMetrics {
	return newDispatchMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newDispatchMetricsWithRegisterer(registerer prometheus.Registerer) *DispatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DispatchMetrics{
		dispatchSucceeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_dispatch_succeeded_total",
			Help: "Total number of outbox events dispatched successfully",
		}),
		dispatchFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_dispatch_failed_total",
			Help: "Total number of outbox event dispatch failures",
		}),
		dispatchCompensated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_dispatch_compensated_total",
			Help: "Total number of dispatches resolved by compensation",
		}),
		deadLettered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_dead_letter_total",
			Help: "Total number of outbox events moved to dead letter",
		}),
		reconciled: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_reconciled_total",
			Help: "Total number of dead letter events resolved by the reconciler",
		}, []string{"resolution"}),
		dispatchDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_dispatch_duration_seconds",
			Help:    "Duration of outbox event dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		pendingEvents: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_outbox_pending_events",
			Help: "Number of unprocessed outbox events",
		}),
		deadLetterUnresolved: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_dead_letter_unresolved",
			Help: "Number of unresolved dead letter events",
		}),
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

// RecordDispatchSucceeded увеличивает счётчик успешных обработок.
func (m *DispatchMetrics) RecordDispatchSucceeded() {
	m.dispatchSucceeded.Inc()
}

// RecordDispatchFailed увеличивает счётчик неудачных обработок.
func (m *DispatchMetrics) RecordDispatchFailed() {
	m.dispatchFailed.Inc()
}

// RecordDispatchCompensated увеличивает счётчик компенсированных обработок.
func (m *DispatchMetrics) RecordDispatchCompensated() {
	m.dispatchCompensated.Inc()
}

// RecordDeadLetter увеличивает счётчик dead-letter событий.
func (m *DispatchMetrics) RecordDeadLetter() {
	m.deadLettered.Inc()
}

// RecordReconciled увеличивает счётчик разрешений reconciler-а.
func (m *DispatchMetrics) RecordReconciled(resolution string) {
	m.reconciled.WithLabelValues(resolution).Inc()
}

// RecordDispatchDuration записывает время обработки события.
func (m *DispatchMetrics) RecordDispatchDuration(duration time.Duration) {
	m.dispatchDuration.Observe(duration.Seconds())
}

// SetBacklog обновляет gauge-метрики backlog из статистики outbox.
func (m *DispatchMetrics) SetBacklog(pending, deadLetterUnresolved int) {
	m.pendingEvents.Set(float64(pending))
	m.deadLetterUnresolved.Set(float64(deadLetterUnresolved))
}
