package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted tracks jobs accepted into the queue per platform
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_jobs_submitted_total",
			Help: "Total number of sync jobs submitted",
		},
		[]string{"platform", "priority"},
	)

	// JobsCompleted tracks terminal job outcomes per platform
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_jobs_completed_total",
			Help: "Total number of sync jobs reaching a terminal state",
		},
		[]string{"platform", "outcome"},
	)

	// RetriesScheduled tracks rescheduled attempts per platform and category
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"platform", "category"},
	)

	// AdapterLatency tracks marketplace adapter call latency
	AdapterLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketsync_adapter_latency_seconds",
			Help:    "Platform adapter call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// DeadLetterDepth tracks pending dead-letter entries
	DeadLetterDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_dead_letter_depth",
			Help: "Number of pending dead-letter jobs",
		},
	)

	// QueueDepth tracks queue sizes by segment (ready, delayed)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketsync_queue_depth",
			Help: "Number of jobs waiting in the scheduling queue",
		},
		[]string{"segment"},
	)

	// EventsDropped counts progress events dropped because no subscriber
	// kept up; job execution never blocks on the event bus
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsync_events_dropped_total",
			Help: "Total number of progress events dropped",
		},
	)

	// DBConnectionPoolUsage tracks database pool utilization percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
