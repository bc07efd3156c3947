package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// State keeper metrics

	BlocksSealedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "l2node_blocks_sealed_total",
			Help: "Total number of blocks sealed by the state keeper",
		},
	)

	PriorityOpsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2node_priority_ops_applied_total",
			Help: "Total number of priority operations applied, by kind",
		},
		[]string{"kind"},
	)

	TxsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2node_txs_applied_total",
			Help: "Total number of transactions applied, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	WithdrawalsPerBlock = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2node_withdrawals_per_block",
			Help:    "Number of withdrawals landed in a sealed block",
			Buckets: []float64{0, 1, 2, 4, 6, 8, 10},
		},
	)

	PendingBlockChunksUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2node_pending_block_chunks_used",
			Help: "Chunks consumed by the current pending block",
		},
	)

	PendingBlockChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2node_pending_block_chunks_total",
			Help: "Chunk capacity of the current pending block",
		},
	)

	KeeperBlockNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2node_keeper_block_number",
			Help: "Number of the pending block the state keeper is assembling",
		},
	)

	MiniblockIterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2node_miniblock_iteration_duration_seconds",
			Help:    "Time taken to process one ExecuteMiniBlock iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Settlement sender metrics

	SenderInFlightOps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2node_sender_in_flight_operations",
			Help: "Number of ETHOperations currently awaiting confirmation",
		},
	)

	SenderInFlightByType = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "l2node_sender_in_flight_operations_by_type",
			Help: "Number of in-flight ETHOperations by action type",
		},
		[]string{"action_type"},
	)

	SenderGasPriceUsedWei = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2node_sender_gas_price_used_wei",
			Help: "Gas price used for the most recently broadcast settlement transaction",
		},
	)

	SenderGasBumpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "l2node_sender_gas_bumps_total",
			Help: "Total number of times the settlement sender re-broadcast a stuck transaction at a higher gas price",
		},
	)

	SenderConfirmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2node_sender_confirmed_total",
			Help: "Total number of ETHOperations confirmed, by action type",
		},
		[]string{"action_type"},
	)

	SenderLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2node_sender_loop_duration_seconds",
			Help:    "Time taken for one settlement sender driver loop cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SenderLoopCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "l2node_sender_loop_cycles_total",
			Help: "Total number of settlement sender driver loop cycles completed",
		},
	)

	// Tree metrics

	TreeRootHashDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2node_tree_root_hash_duration_seconds",
			Help:    "Time taken to (re)compute the account tree root hash",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(BlocksSealedTotal)
	prometheus.MustRegister(PriorityOpsAppliedTotal)
	prometheus.MustRegister(TxsAppliedTotal)
	prometheus.MustRegister(WithdrawalsPerBlock)
	prometheus.MustRegister(PendingBlockChunksUsed)
	prometheus.MustRegister(PendingBlockChunksTotal)
	prometheus.MustRegister(KeeperBlockNumber)
	prometheus.MustRegister(MiniblockIterationDuration)

	prometheus.MustRegister(SenderInFlightOps)
	prometheus.MustRegister(SenderInFlightByType)
	prometheus.MustRegister(SenderGasPriceUsedWei)
	prometheus.MustRegister(SenderGasBumpsTotal)
	prometheus.MustRegister(SenderConfirmedTotal)
	prometheus.MustRegister(SenderLoopDuration)
	prometheus.MustRegister(SenderLoopCyclesTotal)

	prometheus.MustRegister(TreeRootHashDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
