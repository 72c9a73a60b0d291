package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailflow_records_enqueued_total",
		Help: "Total number of records placed on the processing queue.",
	})

	RecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailflow_records_processed_total",
		Help: "Total number of records fully processed by the engine.",
	})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailflow_records_dropped_total",
		Help: "Total number of records rejected due to a full queue.",
	})

	RulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_rules_matched_total",
		Help: "Total number of rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	RulesRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_rules_rate_limited_total",
		Help: "Total number of candidate selections skipped by the hourly execution cap.",
	}, []string{"rule_id"})

	RuleTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_rule_timeouts_total",
		Help: "Total number of rule executions abandoned at the rule timeout.",
	}, []string{"rule_id"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	RecordProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailflow_record_processing_duration_ms",
		Help:    "End-to-end record processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailflow_queue_utilization_ratio",
		Help: "Current record queue utilization (0-1).",
	})
)
