// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GroupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payup_groups_created_total",
		Help: "Total number of expense groups created.",
	})

	MembersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payup_members_joined_total",
		Help: "Total number of participants added to a group roster.",
	})

	ExpensesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payup_expenses_recorded_total",
		Help: "Total number of records appended, labelled by split method and kind.",
	}, []string{"split", "kind"})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payup_validation_failures_total",
		Help: "Rejected records and plans, labelled by error kind.",
	}, []string{"kind"})

	PlansComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payup_plans_computed_total",
		Help: "Settlement plans computed, labelled by source (api, worker, cli) and cache outcome.",
	}, []string{"source", "cache"})

	TransfersPlanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payup_plan_transfers",
		Help:    "Number of transfers per computed settlement plan.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
	})

	PlanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payup_plan_duration_ms",
		Help:    "Time to load records, compute balances and plan transfers, in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payup_messages_published_total",
		Help: "ledger.changed notifications, labelled by status.",
	}, []string{"status"})

	SheetExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payup_sheet_exports_total",
		Help: "Settlement plan exports to Google Sheets, labelled by status.",
	}, []string{"status"})

	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payup_cache_entries",
		Help: "Entries held by each in-process cache at the last sweep.",
	}, []string{"cache"})

	CacheHitRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payup_cache_hit_ratio",
		Help: "Lifetime hits divided by lookups for each in-process cache, at the last sweep.",
	}, []string{"cache"})

	CacheEvictions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payup_cache_evictions",
		Help: "Lifetime capacity evictions for each in-process cache, at the last sweep.",
	}, []string{"cache"})
)
