package tasks

import (
	"errors"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/host"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

// StoreEntry is one attribute write a StoreDataTask performs: raw JSON
// bytes destined for path under the kuadrant-owned namespace.
type StoreEntry struct {
	Path  attr.Path
	Value []byte
}

// StoreDataTask writes a batch of attribute entries produced by an action
// task (AuthTask's DynamicMetadata) back into
// the request context so later predicates/expressions can read them
// (spec §4.9).
type StoreDataTask struct {
	entries []StoreEntry
}

// NewStoreDataTask builds a StoreDataTask writing entries.
func NewStoreDataTask(entries []StoreEntry) *StoreDataTask {
	return &StoreDataTask{entries: entries}
}

func (t *StoreDataTask) ID() (string, bool)     { return "", false }
func (t *StoreDataTask) Dependencies() []string { return nil }
func (t *StoreDataTask) PausesFilter() bool     { return false }

func (t *StoreDataTask) Apply(ctx *reqctx.Context) pipeline.Outcome {
	for i, e := range t.entries {
		if err := ctx.SetAttribute(e.Path, e.Value); err != nil {
			if errors.Is(err, host.ErrNotAvailable) {
				return pipeline.Requeued(NewStoreDataTask(t.entries[i:]))
			}
			ctx.Logger().V(1).Info("store data task: write failed", "path", e.Path.String(), "error", err)
			return pipeline.Failed()
		}
	}
	return pipeline.Done()
}
