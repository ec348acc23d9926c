// Package observability exposes prometheus metrics for the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events published per kind across all buses.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coday",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published to session buses, by kind.",
	}, []string{"kind"})

	// EventsDropped counts subscribers dropped for falling behind.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coday",
		Subsystem: "events",
		Name:      "subscribers_dropped_total",
		Help:      "Subscribers closed because their queue overflowed.",
	})

	// RunsStarted counts run loop turns started, by agent.
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coday",
		Subsystem: "runs",
		Name:      "started_total",
		Help:      "Run loop turns started, by agent.",
	}, []string{"agent"})

	// RunsCompleted counts run loop turns finished, by agent and outcome
	// (ok, stopped, error, budget_exhausted).
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coday",
		Subsystem: "runs",
		Name:      "completed_total",
		Help:      "Run loop turns completed, by agent and outcome.",
	}, []string{"agent", "outcome"})

	// ToolExecutions counts tool invocations, by tool and status.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coday",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool invocations, by tool name and status (ok, error, timeout).",
	}, []string{"tool", "status"})

	// ToolDuration observes tool execution latency.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coday",
		Subsystem: "tools",
		Name:      "duration_seconds",
		Help:      "Tool invocation wall time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// ModelCalls counts model completion calls, by provider and status.
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coday",
		Subsystem: "model",
		Name:      "calls_total",
		Help:      "Model completion calls, by provider and status.",
	}, []string{"provider", "status"})
)
