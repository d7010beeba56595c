// Package metrics exposes the prometheus/client_golang counters and
// histograms the httpfilter and reload layers increment: evaluation
// counts, gRPC dispatch latency, selector outcomes and reload attempts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineEvaluations counts every Pipeline.Eval/Digest call, labeled
	// by whether the pipeline completed or has work remaining.
	PipelineEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasm_shim",
		Subsystem: "pipeline",
		Name:      "evaluations_total",
		Help:      "Number of pipeline eval/digest calls, labeled by outcome.",
	}, []string{"outcome"})

	// TaskOutcomes is labeled by task kind and outcome kind. It is
	// registered, but no code in this module increments it.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasm_shim",
		Subsystem: "pipeline",
		Name:      "task_outcomes_total",
		Help:      "Number of task outcomes, labeled by task and outcome kind.",
	}, []string{"task", "outcome"})

	// GRPCDispatchDuration measures each blocking gRPC call made by the
	// httpfilter dispatcher, labeled by the target service.
	GRPCDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wasm_shim",
		Subsystem: "grpc",
		Name:      "dispatch_duration_seconds",
		Help:      "Latency of outbound gRPC calls dispatched by action tasks.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})

	// BlueprintSelections counts hostname selector outcomes, labeled by
	// the blueprint.SelectOutcome kind.
	BlueprintSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasm_shim",
		Subsystem: "selector",
		Name:      "selections_total",
		Help:      "Number of blueprint selector outcomes, labeled by result.",
	}, []string{"result"})

	// ReloadCount counts configuration reload attempts, labeled by
	// success/failure.
	ReloadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasm_shim",
		Subsystem: "reload",
		Name:      "attempts_total",
		Help:      "Number of configuration reload attempts, labeled by result.",
	}, []string{"result"})
)
