package reqctx

import (
	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
)

// RequestDataEntry is the per-request evaluation result of one configured
// requestData mapping (§4.4 eval_request_data): the domain/field it is
// filed under, the evaluation state, and the original CEL source text for
// observability.
type RequestDataEntry struct {
	Domain string
	Field  string
	State  attr.State[expr.Value]
	Source string
}

// EvalRequestData evaluates every configured request-data expression
// exactly once per call against this context and returns the results.
// The only caller, the httpfilter middleware, discards them, so they are
// not attached to outbound gRPC metadata. Evaluation errors are surfaced
// as a Go error rather than
// silently dropping the entry, since a malformed expression here would
// already have been caught at compile time (§3 invariant 6); a runtime
// error at this point means an attribute read genuinely failed.
func (c *Context) EvalRequestData(entries []blueprint.RequestDataEntry) ([]RequestDataEntry, error) {
	out := make([]RequestDataEntry, 0, len(entries))
	for _, e := range entries {
		state, err := e.Expr.Eval(c)
		if err != nil {
			return nil, err
		}
		out = append(out, RequestDataEntry{
			Domain: e.Domain,
			Field:  e.Field,
			State:  state,
			Source: e.Expr.Source(),
		})
	}
	return out, nil
}
