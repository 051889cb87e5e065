// Package metrics exposes Prometheus instruments for execution orchestration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inkwell"

// Metrics groups every orchestration instrument. Each instance registers on
// its own registerer so coordinators can be built side by side in tests.
type Metrics struct {
	ActiveExecutions  prometheus.Gauge
	Submissions       *prometheus.CounterVec
	Outcomes          *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	TokensDebited     *prometheus.CounterVec
	CostDebited       *prometheus.CounterVec
	DebitFailures     prometheus.Counter
	GateScores        *prometheus.HistogramVec
	Regenerations     *prometheus.CounterVec
	SweepFailures     *prometheus.CounterVec
	ArtifactUploads   *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "active_executions",
			Help:      "Executions currently registered with the coordinator",
		}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "submissions_total",
			Help:      "Submissions by admission result",
		}, []string{"result"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "outcomes_total",
			Help:      "Terminal outcomes by status and reason",
		}, []string{"status", "reason"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "execution_duration_seconds",
			Help:      "Wall time from admission to terminal status",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TokensDebited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_debited_total",
			Help:      "Tokens debited by entry kind",
		}, []string{"kind"}),
		CostDebited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "cost_debited_usd_total",
			Help:      "Estimated USD cost debited by entry kind",
		}, []string{"kind"}),
		DebitFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "debit_failures_total",
			Help:      "Debits that failed and were logged",
		}),
		GateScores: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "gate_score",
			Help:      "Quality gate scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"gate"}),
		Regenerations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regeneration",
			Name:      "requests_total",
			Help:      "Regeneration requests by result",
		}, []string{"result"}),
		SweepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "sweep_failures_total",
			Help:      "Executions force-failed by the staleness sweep",
		}, []string{"source"}),
		ArtifactUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifacts",
			Name:      "uploads_total",
			Help:      "Artifact format uploads by result",
		}, []string{"format", "result"}),
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "calls_total",
			Help:      "Provider calls by provider and result",
		}, []string{"provider", "result"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "providers",
			Name:      "call_duration_seconds",
			Help:      "Provider call latency",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
	}
}

// NewNop builds instruments on a private registry, for callers that do not
// export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
