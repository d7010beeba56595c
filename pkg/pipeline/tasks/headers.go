package tasks

import (
	"errors"

	"github.com/kuadrant/wasm-shim-go/pkg/host"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

// HeaderMod is one header mutation: set or append Value under Name.
type HeaderMod struct {
	Name  string
	Value string
}

// ModifyHeadersMode selects whether a ModifyHeadersTask appends a new
// entry or replaces every existing entry for a name.
type ModifyHeadersMode int

const (
	ModifyHeadersAppend ModifyHeadersMode = iota
	ModifyHeadersSet
)

// HeaderTarget selects which side of the exchange a ModifyHeadersTask
// mutates.
type HeaderTarget int

const (
	RequestHeaders HeaderTarget = iota
	ResponseHeaders
)

// ModifyHeadersTask applies a batch of header mutations to either the
// request or response header map (spec §4.9).
type ModifyHeadersTask struct {
	mode   ModifyHeadersMode
	mods   []HeaderMod
	target HeaderTarget
}

// NewModifyHeadersTask builds a ModifyHeadersTask applying mods to target
// using mode.
func NewModifyHeadersTask(mode ModifyHeadersMode, mods []HeaderMod, target HeaderTarget) *ModifyHeadersTask {
	return &ModifyHeadersTask{mode: mode, mods: mods, target: target}
}

func (t *ModifyHeadersTask) ID() (string, bool)     { return "", false }
func (t *ModifyHeadersTask) Dependencies() []string { return nil }
func (t *ModifyHeadersTask) PausesFilter() bool     { return false }

func (t *ModifyHeadersTask) Apply(ctx *reqctx.Context) pipeline.Outcome {
	get := ctx.RequestHeaders
	set := ctx.SetRequestHeaders
	if t.target == ResponseHeaders {
		get = ctx.ResponseHeaders
		set = ctx.SetResponseHeaders
	}

	h, err := get()
	if err != nil {
		if errors.Is(err, host.ErrNotAvailable) {
			return pipeline.Requeued(t)
		}
		ctx.Logger().V(1).Info("modify headers task: read failed", "error", err)
		return pipeline.Failed()
	}

	for _, m := range t.mods {
		switch t.mode {
		case ModifyHeadersSet:
			h.Set(m.Name, m.Value)
		default:
			h.Append(m.Name, m.Value)
		}
	}

	if err := set(h); err != nil {
		if errors.Is(err, host.ErrNotAvailable) {
			return pipeline.Requeued(t)
		}
		ctx.Logger().V(1).Info("modify headers task: write failed", "error", err)
		return pipeline.Failed()
	}
	return pipeline.Done()
}
