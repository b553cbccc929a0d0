package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Opportunities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_opportunities_total",
		Help: "Opportunities detected, by pair",
	}, []string{"pair"})

	Executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_executions_total",
		Help: "Finished executions, by outcome (success|failure)",
	}, []string{"outcome"})

	SkippedAtCapacity = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_scan_skipped_at_capacity_total",
		Help: "Pair scans skipped because the concurrency cap was reached",
	})

	ActiveExecutions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_active_executions",
		Help: "Executions currently in flight",
	})

	ExecutionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_execution_latency_seconds",
		Help:    "Time from dispatch to atomic submission result",
		Buckets: prometheus.DefBuckets,
	})

	QuoterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_quoter_errors_total",
		Help: "Number of oracle quote failures, by venue",
	}, []string{"venue"})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_quoter_latency_seconds",
		Help:    "Time to obtain a venue quote",
		Buckets: prometheus.DefBuckets,
	})

	PositionSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_position_size",
		Help: "Current position size per pair (quote token smallest units)",
	}, []string{"pair"})

	ProfitDistributed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_profit_distributed_total",
		Help: "Distributed profit by bucket (reinvest|withdraw|reserve)",
	}, []string{"bucket"})

	ProfitEstimated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_profit_estimated_total",
		Help: "Successful executions recorded with estimated rather than settled profit",
	})
)

func init() {
	prometheus.MustRegister(
		Opportunities,
		Executions,
		SkippedAtCapacity,
		ActiveExecutions,
		ExecutionLatency,
		QuoterErrors,
		QuoteLatency,
		PositionSize,
		ProfitDistributed,
		ProfitEstimated,
	)
}
