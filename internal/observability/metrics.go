package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for HookLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Fee accrual ---
	FeeEpochsAccrued   *prometheus.CounterVec
	LPTermSkipped      *prometheus.CounterVec
	MarginFeesCharged  *prometheus.CounterVec
	FundingTransferred *prometheus.CounterVec
	LPProfitPaid       *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationCompleted *prometheus.CounterVec
	LiquidationRejected  *prometheus.CounterVec
	LiquidationDeficit   *prometheus.CounterVec
	InsuranceFundBalance *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec
	WSClients     prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_core_events_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_core_events_rejected_total",
			Help: "Operations rejected (duplicate, gap, domain error)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hook_core_event_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "hook_core_sequence",
			Help: "Next global sequence number",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hook_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hook_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hook_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "hook_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "hook_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_event_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_event_out_of_order_total",
			Help: "Out-of-order operations rejected",
		}, []string{"partition"}),

		// Fee accrual
		FeeEpochsAccrued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_fee_epochs_accrued_total",
			Help: "Epochs applied by fee catch-up",
		}, []string{"pool"}),

		LPTermSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_fee_lp_term_skipped_total",
			Help: "Catch-ups that charged margin with no liquidity staked",
		}, []string{"pool"}),

		MarginFeesCharged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_margin_fees_charged_total",
			Help: "Margin fees debited from trader collateral (base units)",
		}, []string{"pool"}),

		FundingTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_funding_transferred_total",
			Help: "Funding settled against trader collateral (base units)",
		}, []string{"pool", "direction"}),

		LPProfitPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_lp_profit_paid_total",
			Help: "Realized LP profit paid out on unstake (base units)",
		}, []string{"pool"}),

		// Liquidation
		LiquidationCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_liquidation_completed_total",
			Help: "Positions liquidated",
		}, []string{"pool"}),

		LiquidationRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_liquidation_rejected_total",
			Help: "Liquidation attempts on healthy positions",
		}, []string{"pool"}),

		LiquidationDeficit: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_liquidation_deficit_total",
			Help: "Liquidation shortfall (base units)",
		}, []string{"pool", "source"}),

		InsuranceFundBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hook_insurance_fund_balance",
			Help: "Insurance fund balance (base units)",
		}, []string{"pool"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "hook_persist_events_written_total",
			Help: "Events written to event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "hook_persist_journals_written_total",
			Help: "Journals written to journal table",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hook_persist_batch_size",
			Help:    "Events per persist batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hook_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_persist_errors_total",
			Help: "Postgres write errors",
		}, []string{"operation"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "hook_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hook_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "hook_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hook_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "hook_snapshot_size_bytes",
			Help: "Size of last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "hook_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hook_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "hook_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hook_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hook_query_cache_lookups_total",
			Help: "Redis read-through lookups",
		}, []string{"kind", "result"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "hook_ws_clients",
			Help: "Connected websocket clients",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
