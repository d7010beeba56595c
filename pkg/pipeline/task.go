// Package pipeline implements the per-request task scheduler: the ordered
// queue, deferred-call map, completed-id set, and teardown list described
// in spec §4.10, driven by Task.Apply and PendingTask.Process closures
// that read/write attributes through a *reqctx.Context.
package pipeline

import "github.com/kuadrant/wasm-shim-go/pkg/reqctx"

// Task is one unit of pipeline work. The heterogeneous queue holds Tasks
// as interface values rather than a closed tagged variant, since the
// action-task set (pkg/pipeline/tasks) is meant to be extended by new
// service integrations without touching the scheduler.
type Task interface {
	// ID identifies this task's completion for dependency tracking. Not
	// every task needs to be depended upon; ok is false when it doesn't.
	ID() (id string, ok bool)

	// Dependencies lists task ids that must already be in the pipeline's
	// completed set before this task may apply.
	Dependencies() []string

	// PausesFilter reports whether, when this task is queued and ready to
	// apply, the outer filter must pause the request pending its outcome.
	PausesFilter() bool

	// Apply runs the task's logic against ctx and returns its outcome.
	Apply(ctx *reqctx.Context) Outcome
}

// PendingTask is the continuation parked under a token id by a Deferred
// outcome: the closure to run when the host's gRPC callback arrives, plus
// enough of the originating task's identity for the scheduler's
// bookkeeping.
type PendingTask struct {
	TaskID string
	HasID  bool
	Pauses bool
	// Process is invoked once the pipeline's Digest has recorded the
	// gRPC response on ctx (status and payload size); it returns the
	// task's continuation outcome.
	Process func(ctx *reqctx.Context) Outcome
}

// ID satisfies the same dependency-bookkeeping shape as Task, for the
// teardown no-op substitution (§4.10) that still needs an id to log.
func (p PendingTask) ID() (string, bool) { return p.TaskID, p.HasID }

// noopPending replaces an orphaned deferred call's continuation on
// Terminate: its response is absorbed without mutating any state.
func noopPending(id string, hasID bool) PendingTask {
	return PendingTask{
		TaskID: id,
		HasID:  hasID,
		Process: func(*reqctx.Context) Outcome {
			return Done()
		},
	}
}

// TeardownAction runs once the task queue and deferred map both empty,
// either at natural completion or after a Terminate. Execute returns Done
// when the action finished synchronously, or Deferred when it dispatched
// its own gRPC call and must wait for a later Digest.
type TeardownAction interface {
	Execute(ctx *reqctx.Context) Outcome
}

// TeardownFunc adapts a plain function to TeardownAction.
type TeardownFunc func(ctx *reqctx.Context) Outcome

func (f TeardownFunc) Execute(ctx *reqctx.Context) Outcome { return f(ctx) }
