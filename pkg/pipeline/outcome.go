package pipeline

// Kind discriminates the five outcomes a Task.Apply or PendingTask.Process
// call can produce (spec §4.8). Outcome is a tagged struct rather than a
// sum of concrete types, since the set is closed and small and a type
// switch over five fields reads more plainly than five tiny wrapper types.
type Kind int

const (
	KindDone Kind = iota
	KindRequeued
	KindDeferred
	KindTerminate
	KindFailed
)

// Outcome is the result of applying a Task or digesting a PendingTask.
type Outcome struct {
	kind Kind

	requeued []Task

	tokenID uint32
	pending PendingTask

	terminate Task
}

// Kind reports which variant this outcome holds.
func (o Outcome) Kind() Kind { return o.kind }

// Done marks the task finished; its id (if any) is recorded completed.
func Done() Outcome { return Outcome{kind: KindDone} }

// Requeued prepends or appends new tasks to the queue (the scheduler
// decides head/tail per call site); if tasks includes the original task,
// its dependencies stay unmet until their inputs resolve.
func Requeued(tasks ...Task) Outcome { return Outcome{kind: KindRequeued, requeued: tasks} }

// Requeued returns the tasks to reschedule; valid only when Kind is
// KindRequeued.
func (o Outcome) Requeued() []Task { return o.requeued }

// Deferred parks pending under tokenID awaiting a later Digest call.
func Deferred(tokenID uint32, pending PendingTask) Outcome {
	return Outcome{kind: KindDeferred, tokenID: tokenID, pending: pending}
}

// Deferred returns the token id and pending continuation; valid only when
// Kind is KindDeferred.
func (o Outcome) Deferred() (uint32, PendingTask) { return o.tokenID, o.pending }

// Terminate runs t for its side effect (typically a SendReplyTask), then
// clears the queue, orphans outstanding deferred calls, and runs teardown.
func Terminate(t Task) Outcome { return Outcome{kind: KindTerminate, terminate: t} }

// Terminate returns the nested task to run for effect; valid only when
// Kind is KindTerminate.
func (o Outcome) Terminate() Task { return o.terminate }

// Failed logs and drops the task; whether this escalates to a synthetic
// 500 reply is the specific task's call, not the scheduler's.
func Failed() Outcome { return Outcome{kind: KindFailed} }
