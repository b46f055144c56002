package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonwraymond/toolharness/code"
)

const namespace = "toolharness"

// Collector exports execution metrics to Prometheus.
type Collector struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	toolCalls  prometheus.Counter
	outputSize prometheus.Histogram
	findings   *prometheus.CounterVec
}

// NewCollector registers the collector's metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Finished executions by terminal state and failure kind",
			},
			[]string{"state", "kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Execution wall time from preparing to completion",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
			},
			[]string{"state"},
		),
		toolCalls: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool invocations made by scripts",
			},
		),
		outputSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "output_bytes",
				Help:      "Size of the captured output per execution",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
		findings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_findings_total",
				Help:      "Advisory findings reported by script inspection",
			},
			[]string{"rule"},
		),
	}
}

// Observe records a finished execution.
func (c *Collector) Observe(res code.Result) {
	if c == nil {
		return
	}
	state := res.State.String()
	kind := res.Kind
	if kind == "" {
		kind = "none"
	}
	c.executions.WithLabelValues(state, kind).Inc()
	c.duration.WithLabelValues(state).Observe(float64(res.ExecutionTimeMs) / 1000)
	c.toolCalls.Add(float64(len(res.ToolCalls)))
	c.outputSize.Observe(float64(len(res.Output)))
}

// ObserveFinding counts an inspection finding by rule.
func (c *Collector) ObserveFinding(rule string) {
	if c == nil {
		return
	}
	c.findings.WithLabelValues(rule).Inc()
}
