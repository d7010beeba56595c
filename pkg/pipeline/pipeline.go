package pipeline

import (
	"strconv"

	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

// Pipeline is the per-request task scheduler: an ordered task queue, a map
// of outstanding gRPC calls keyed by token id, the set of task ids that
// have completed, and the teardown actions to run once both empty. A
// Pipeline is owned by exactly one Request Context and is never shared
// across requests (spec §5).
type Pipeline struct {
	ctx *reqctx.Context

	queue     []Task
	deferred  map[uint32]PendingTask
	completed map[string]bool

	teardown        []TeardownAction
	teardownStarted bool
}

// New constructs an empty Pipeline bound to ctx.
func New(ctx *reqctx.Context) *Pipeline {
	return &Pipeline{
		ctx:       ctx,
		deferred:  map[uint32]PendingTask{},
		completed: map[string]bool{},
	}
}

// WithTasks appends the given tasks to the initial queue and returns the
// same Pipeline, for fluent construction at blueprint instantiation time.
func (p *Pipeline) WithTasks(tasks ...Task) *Pipeline {
	p.queue = append(p.queue, tasks...)
	return p
}

// WithTeardownTasks sets the teardown actions to run once the queue and
// deferred map both empty.
func (p *Pipeline) WithTeardownTasks(teardown ...TeardownAction) *Pipeline {
	p.teardown = append(p.teardown, teardown...)
	return p
}

// RequiresPause reports whether the outer filter must pause the request:
// true iff there is an outstanding deferred call, or a task at the front
// of dependency-readiness whose PausesFilter is true.
func (p *Pipeline) RequiresPause() bool {
	if len(p.deferred) > 0 {
		return true
	}
	for _, t := range p.queue {
		if p.dependenciesMet(t) && t.PausesFilter() {
			return true
		}
	}
	return false
}

func (p *Pipeline) dependenciesMet(t Task) bool {
	for _, dep := range t.Dependencies() {
		if !p.completed[dep] {
			return false
		}
	}
	return true
}

// Eval drains the current queue once, applying every dependency-ready
// task and merging its outcome. It returns nil if the pipeline has fully
// completed (queue and deferred map both empty and teardown has run to
// completion), or itself if work remains.
func (p *Pipeline) Eval() *Pipeline {
	p.drainOnce(false)
	return p.continueOrComplete()
}

// Digest looks up the pending continuation parked under tokenID, records
// the gRPC response metadata on the context, applies the continuation,
// merges its outcome, then drains the rest of the queue once as Eval does.
// Unlike Eval, every Requeued outcome merged during the call (the digested
// continuation's and those of tasks drained after it) is inserted at the
// front of the queue rather than appended.
func (p *Pipeline) Digest(tokenID uint32, status, size int) *Pipeline {
	pending, ok := p.deferred[tokenID]
	if !ok {
		p.ctx.Logger().V(1).Info("pipeline: digest for unknown token id", "token_id", tokenID)
		return p.continueOrComplete()
	}
	delete(p.deferred, tokenID)

	p.ctx.SetGRPCResponseMeta(status, size)
	outcome := pending.Process(p.ctx)
	p.merge(outcome, pending.TaskID, pending.HasID, true)

	p.drainOnce(true)
	return p.continueOrComplete()
}

func (p *Pipeline) continueOrComplete() *Pipeline {
	if len(p.queue) == 0 && len(p.deferred) == 0 {
		if p.runTeardown() {
			return nil
		}
	}
	if len(p.queue) == 0 && len(p.deferred) == 0 {
		return nil
	}
	return p
}

// drainOnce runs the scheduling algorithm of spec §4.10 step 1-3 once over
// the current queue contents. insertRequeuedAtFront controls where a
// Requeued outcome's new tasks land; dependency-unmet rotation always goes
// to the back regardless.
func (p *Pipeline) drainOnce(insertRequeuedAtFront bool) {
	local := p.queue
	p.queue = nil

	for _, t := range local {
		if !p.dependenciesMet(t) {
			p.queue = append(p.queue, t)
			continue
		}

		outcome := t.Apply(p.ctx)
		id, hasID := t.ID()
		terminated := p.merge(outcome, id, hasID, insertRequeuedAtFront)
		if terminated {
			return
		}
	}
}

// merge applies one task outcome's effects to the pipeline's state.
// Returns true if the outcome was Terminate, signalling the caller to stop
// processing the rest of the local batch immediately.
func (p *Pipeline) merge(outcome Outcome, id string, hasID bool, insertAtFront bool) bool {
	switch outcome.Kind() {
	case KindDone:
		if hasID {
			p.completed[id] = true
		}

	case KindRequeued:
		tasks := outcome.Requeued()
		if insertAtFront {
			p.queue = append(append([]Task{}, tasks...), p.queue...)
		} else {
			p.queue = append(p.queue, tasks...)
		}

	case KindDeferred:
		tok, pending := outcome.Deferred()
		if _, exists := p.deferred[tok]; exists {
			p.ctx.Logger().Error(nil, "pipeline: duplicate token id inserted into deferred map", "token_id", tok)
		}
		p.deferred[tok] = pending

	case KindFailed:
		p.ctx.Logger().V(1).Info("pipeline: task failed", "task_id", id)

	case KindTerminate:
		p.terminate(outcome.Terminate())
		return true
	}
	return false
}

// terminate runs t for its side effect, clears the queue, orphans every
// outstanding deferred call with a no-op continuation, and runs teardown.
func (p *Pipeline) terminate(t Task) {
	// The terminating task's own outcome (typically Done from a
	// SendReplyTask) is not itself merged further: Terminate already
	// means "stop scheduling", so any follow-up outcome it produced
	// would have nowhere left to go.
	_ = t.Apply(p.ctx)

	p.queue = nil
	for tok, pending := range p.deferred {
		p.deferred[tok] = noopPending(pending.TaskID, pending.HasID)
	}

	p.runTeardown()
}

// runTeardown executes every teardown action exactly once, the first time
// the queue and deferred map both empty (naturally or via Terminate). It
// returns true if every action completed synchronously (no new deferred
// entries were installed).
func (p *Pipeline) runTeardown() bool {
	if p.teardownStarted {
		return len(p.deferred) == 0
	}
	p.teardownStarted = true

	for i, action := range p.teardown {
		outcome := action.Execute(p.ctx)
		switch outcome.Kind() {
		case KindDeferred:
			tok, pending := outcome.Deferred()
			pending.TaskID = teardownTaskID(tok)
			pending.HasID = true
			p.deferred[tok] = pending
		case KindFailed:
			p.ctx.Logger().V(1).Info("pipeline: teardown action failed", "index", i)
		}
	}
	return len(p.deferred) == 0
}

func teardownTaskID(token uint32) string {
	return "teardown_" + strconv.FormatUint(uint64(token), 10)
}
