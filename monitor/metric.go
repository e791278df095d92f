package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "cvm"
)

const (
	SUBSYSTEM_ENGINE    = "engine"
	SUBSYSTEM_LIFECYCLE = "lifecycle"
	SUBSYSTEM_EVENT     = "event"

	LabelClass   = "class"
	LabelOutcome = "outcome"
	LabelFailure = "failure"
	LabelStatus  = "status"

	MetricInvocationCounter = "metric_invocation_counter"
	MetricInvocationTime    = "metric_invocation_time"
	MetricGasUsed           = "metric_gas_used"
	MetricEventCounter      = "metric_event_counter"
	MetricTxCounter         = "metric_tx_counter"
	MetricPoolSize          = "metric_pool_size"
	MetricBlockTxs          = "metric_block_txs"

	HelpInvocationCounterMetric = "contract invocations by class, outcome and failure kind"
	HelpInvocationTimeMetric    = "contract invocation time metric"
	HelpGasUsedMetric           = "gas used per top-level invocation"
	HelpEventCounterMetric      = "committed contract events"
	HelpTxCounterMetric         = "transactions by final lifecycle status"
	HelpPoolSizeMetric          = "transactions waiting in the pool"
	HelpBlockTxsMetric          = "transactions included per block"
)

var (
	counterVecs        map[string]*prometheus.CounterVec
	histogramVecs      map[string]*prometheus.HistogramVec
	gaugeVecs          map[string]*prometheus.GaugeVec
	counterVecsMutex   sync.Mutex
	histogramVecsMutex sync.Mutex
	gaugeVecsMutex     sync.Mutex

	enabled atomic.Bool
)

func init() {
	counterVecs = make(map[string]*prometheus.CounterVec)
	histogramVecs = make(map[string]*prometheus.HistogramVec)
	gaugeVecs = make(map[string]*prometheus.GaugeVec)
	enabled.Store(true)
}

// SetEnabled switches metric collection on or off.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Enabled reports whether metrics are collected.
func Enabled() bool {
	return enabled.Load()
}

func NewCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	counterVecsMutex.Lock()
	defer counterVecsMutex.Unlock()
	s := fmt.Sprintf("%s_%s", subsystem, name)
	if metric, ok := counterVecs[s]; ok {
		return metric
	}
	metric := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(metric)
	counterVecs[s] = metric
	return metric
}

func NewHistogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	histogramVecsMutex.Lock()
	defer histogramVecsMutex.Unlock()
	s := fmt.Sprintf("%s_%s", subsystem, name)
	if metric, ok := histogramVecs[s]; ok {
		return metric
	}
	metric := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
	prometheus.MustRegister(metric)
	histogramVecs[s] = metric
	return metric
}

func NewGaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	gaugeVecsMutex.Lock()
	defer gaugeVecsMutex.Unlock()
	s := fmt.Sprintf("%s_%s", subsystem, name)
	if metric, ok := gaugeVecs[s]; ok {
		return metric
	}
	metric := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(metric)
	gaugeVecs[s] = metric
	return metric
}

func MetricCounterInc(metric *prometheus.CounterVec, lvs ...string) {
	if Enabled() {
		metric.WithLabelValues(lvs...).Inc()
	}
}

func MetricCounterAdd(metric *prometheus.CounterVec, n float64, lvs ...string) {
	if Enabled() {
		metric.WithLabelValues(lvs...).Add(n)
	}
}

func MetricObserve(metric *prometheus.HistogramVec, v float64, lvs ...string) {
	if Enabled() {
		metric.WithLabelValues(lvs...).Observe(v)
	}
}

func MetricGaugeSet(metric *prometheus.GaugeVec, v float64, lvs ...string) {
	if Enabled() {
		metric.WithLabelValues(lvs...).Set(v)
	}
}

// EngineMetrics are recorded by the invocation engine.
type EngineMetrics struct {
	Invocations *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	GasUsed     *prometheus.HistogramVec
	Events      *prometheus.CounterVec
}

// NewEngineMetrics returns the shared engine collectors.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		Invocations: NewCounterVec(SUBSYSTEM_ENGINE, MetricInvocationCounter, HelpInvocationCounterMetric,
			LabelClass, LabelOutcome, LabelFailure),
		Duration: NewHistogramVec(SUBSYSTEM_ENGINE, MetricInvocationTime, HelpInvocationTimeMetric,
			[]float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 1, 10}, LabelClass),
		GasUsed: NewHistogramVec(SUBSYSTEM_ENGINE, MetricGasUsed, HelpGasUsedMetric,
			prometheus.ExponentialBuckets(100, 4, 10), LabelClass),
		Events: NewCounterVec(SUBSYSTEM_EVENT, MetricEventCounter, HelpEventCounterMetric),
	}
}

// ObserveInvocation records one finished top-level invocation.
func (m *EngineMetrics) ObserveInvocation(class, outcome, failure string, elapsed time.Duration, gas uint64) {
	MetricCounterInc(m.Invocations, class, outcome, failure)
	MetricObserve(m.Duration, elapsed.Seconds(), class)
	MetricObserve(m.GasUsed, float64(gas), class)
}

// ObserveEvents records committed events.
func (m *EngineMetrics) ObserveEvents(n int) {
	if n > 0 {
		MetricCounterAdd(m.Events, float64(n))
	}
}

// LifecycleMetrics are recorded by the transaction coordinator.
type LifecycleMetrics struct {
	Transactions *prometheus.CounterVec
	PoolSize     *prometheus.GaugeVec
	BlockTxs     *prometheus.HistogramVec
}

// NewLifecycleMetrics returns the shared lifecycle collectors.
func NewLifecycleMetrics() *LifecycleMetrics {
	return &LifecycleMetrics{
		Transactions: NewCounterVec(SUBSYSTEM_LIFECYCLE, MetricTxCounter, HelpTxCounterMetric, LabelStatus),
		PoolSize:     NewGaugeVec(SUBSYSTEM_LIFECYCLE, MetricPoolSize, HelpPoolSizeMetric),
		BlockTxs: NewHistogramVec(SUBSYSTEM_LIFECYCLE, MetricBlockTxs, HelpBlockTxsMetric,
			[]float64{0, 1, 10, 100, 1000}),
	}
}
