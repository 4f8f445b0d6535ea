// Package metrics registers the engine's Prometheus instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Evaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_chain_evaluations_total", Help: "Exit chain evaluations performed"})
	ExitsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_exits_dispatched_total", Help: "Exit orders dispatched, by reason"}, []string{"reason"})
	DispatchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_dispatch_retries_total", Help: "Close order attempts retried after a transient broker failure"})
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_dispatch_failures_total", Help: "Dispatches abandoned after retry exhaustion and re-queued"})
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_valuation_cache_hits_total", Help: "Valuation snapshot reads served from cache"})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_valuation_cache_misses_total", Help: "Valuation snapshot reads that missed or were stale"})
	GovernorBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_governor_blocks_total", Help: "Entries blocked by the daily limit governor, by reason code"}, []string{"code"})
	MonitorState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_monitor_state", Help: "0=idle, 1=market open flat, 2=market open with positions"})
	FrozenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_frozen_positions", Help: "Positions frozen out of evaluation after an invariant violation"})
)

func init() {
	prometheus.MustRegister(
		Evaluations,
		ExitsDispatched,
		DispatchRetries,
		DispatchFailures,
		CacheHits,
		CacheMisses,
		GovernorBlocks,
		MonitorState,
		FrozenPositions,
	)
}
