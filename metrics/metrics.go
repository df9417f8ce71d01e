// Package metrics defines the Prometheus instrumentation shared across the
// service. Collectors are registered once via promauto and exported at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "responder_executions_started_total",
			Help: "Total number of executions started",
		},
	)

	ExecutionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responder_executions_finished_total",
			Help: "Total number of executions that reached a terminal state",
		},
		[]string{"state"},
	)

	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "responder_active_executions",
			Help: "Number of executions currently advancing",
		},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "responder_execution_duration_seconds",
			Help:    "Wall time from execution start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responder_steps_executed_total",
			Help: "Total number of workflow steps executed",
		},
		[]string{"action_type", "status"},
	)

	StepRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "responder_step_retries_total",
			Help: "Total number of step retry attempts",
		},
	)

	InquiriesRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "responder_inquiries_raised_total",
			Help: "Total number of inquiries raised by executions",
		},
	)

	InquiriesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responder_inquiries_resolved_total",
			Help: "Total number of inquiries answered or expired",
		},
		[]string{"outcome"},
	)

	ScheduleFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responder_schedule_fires_total",
			Help: "Total number of schedule fire attempts",
		},
		[]string{"status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "responder_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
