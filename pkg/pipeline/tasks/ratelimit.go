package tasks

import (
	"math"

	rlsv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"google.golang.org/protobuf/proto"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

const rateLimitServiceFQN = "envoy.service.ratelimit.v3.RateLimitService"

const (
	ratelimitDomainKey     = "ratelimit.domain"
	ratelimitHitsAddendKey = "ratelimit.hits_addend"
)

// RateLimitTask evaluates an action's conditional data into a descriptor
// list and dispatches a ShouldRateLimit call (spec §4.9).
type RateLimitTask struct {
	action *blueprint.Action
}

// NewRateLimitTask instantiates a RateLimitTask bound to a compiled Action.
func NewRateLimitTask(action *blueprint.Action) *RateLimitTask { return &RateLimitTask{action: action} }

func (t *RateLimitTask) ID() (string, bool)     { return "", false }
func (t *RateLimitTask) Dependencies() []string { return nil }
func (t *RateLimitTask) PausesFilter() bool     { return true }

func (t *RateLimitTask) Apply(ctx *reqctx.Context) pipeline.Outcome {
	gate, err := t.action.Predicates.Apply(ctx)
	if err != nil {
		ctx.Logger().V(1).Info("ratelimit task: predicate evaluation failed", "error", err)
		return t.failOutcome()
	}
	if gate.IsPending() {
		return pipeline.Requeued(t)
	}
	if !gate.MustValue() {
		return pipeline.Done()
	}

	domain := t.action.Scope
	hitsAddend := uint32(1)
	var entries []*rlsv3.RateLimitDescriptor_Entry

	for _, cond := range t.action.ConditionalData {
		condGate, err := cond.Predicates.Apply(ctx)
		if err != nil {
			ctx.Logger().V(1).Info("ratelimit task: conditional predicate failed", "error", err)
			return t.failOutcome()
		}
		if condGate.IsPending() {
			return pipeline.Requeued(t)
		}
		if !condGate.MustValue() {
			continue
		}

		for _, item := range cond.Data {
			state, err := item.Expr.Eval(ctx)
			if err != nil {
				ctx.Logger().V(1).Info("ratelimit task: data expression failed", "key", item.Key, "error", err)
				return t.failOutcome()
			}
			if state.IsPending() {
				return pipeline.Requeued(t)
			}
			v := state.MustValue()

			switch item.Key {
			case ratelimitDomainKey:
				s, ok := v.AsString()
				if !ok || s == "" {
					ctx.Logger().V(1).Info("ratelimit task: empty ratelimit.domain")
					return t.failOutcome()
				}
				domain = s
				continue
			case ratelimitHitsAddendKey:
				n, ok := asNonNegativeUint32(v)
				if !ok {
					ctx.Logger().V(1).Info("ratelimit task: hits_addend out of range")
					return t.failOutcome()
				}
				hitsAddend = n
				continue
			}

			str, err := v.Stringify()
			if err != nil {
				ctx.Logger().V(1).Info("ratelimit task: non-scalar data value", "key", item.Key, "error", err)
				return t.failOutcome()
			}
			entries = append(entries, &rlsv3.RateLimitDescriptor_Entry{Key: item.Key, Value: str})
		}
	}

	if len(entries) == 0 {
		return pipeline.Done()
	}

	req := &rlsv3.RateLimitRequest{
		Domain:      domain,
		Descriptors: []*rlsv3.RateLimitDescriptor{{Entries: entries}},
		HitsAddend:  hitsAddend,
	}
	msg, err := proto.Marshal(req)
	if err != nil {
		ctx.Logger().V(1).Info("ratelimit task: marshal request failed", "error", err)
		return t.failOutcome()
	}

	token, err := ctx.DispatchGRPCCall(t.action.Service.Endpoint, rateLimitServiceFQN, "ShouldRateLimit", attr.Headers{}, msg, t.action.Service.Timeout.AsTime())
	if err != nil {
		ctx.Logger().V(1).Info("ratelimit task: dispatch failed", "error", err)
		return t.failOutcome()
	}

	return pipeline.Deferred(token, pipeline.PendingTask{
		Pauses:  true,
		Process: t.processResponse,
	})
}

func (t *RateLimitTask) processResponse(ctx *reqctx.Context) pipeline.Outcome {
	if ctx.GRPCResponseStatus() != 0 {
		ctx.Logger().V(1).Info("ratelimit task: non-OK gRPC status", "status", ctx.GRPCResponseStatus())
		return t.failOutcome()
	}

	raw, err := ctx.GetGRPCResponse(ctx.GRPCResponseSize())
	if err != nil {
		ctx.Logger().V(1).Info("ratelimit task: read response failed", "error", err)
		return t.failOutcome()
	}

	var resp rlsv3.RateLimitResponse
	if err := proto.Unmarshal(raw, &resp); err != nil {
		ctx.Logger().V(1).Info("ratelimit task: decode response failed", "error", err)
		return t.failOutcome()
	}

	switch resp.GetOverallCode() {
	case rlsv3.RateLimitResponse_OK:
		if len(resp.GetResponseHeadersToAdd()) == 0 {
			return pipeline.Done()
		}
		mods := make([]HeaderMod, 0, len(resp.GetResponseHeadersToAdd()))
		for _, h := range resp.GetResponseHeadersToAdd() {
			mods = append(mods, HeaderMod{Name: h.GetHeader().GetKey(), Value: h.GetHeader().GetValue()})
		}
		return pipeline.Requeued(NewModifyHeadersTask(ModifyHeadersAppend, mods, ResponseHeaders))

	case rlsv3.RateLimitResponse_OVER_LIMIT:
		h := attr.Headers{}
		for _, hv := range resp.GetResponseHeadersToAdd() {
			h.Append(hv.GetHeader().GetKey(), hv.GetHeader().GetValue())
		}
		return pipeline.Terminate(TooManyRequests(h, []byte("Too Many Requests\n")))

	default:
		return pipeline.Failed()
	}
}

func (t *RateLimitTask) failOutcome() pipeline.Outcome {
	if t.action.Service.FailureMode == config.FailureModeAllow {
		return pipeline.Done()
	}
	return pipeline.Terminate(InternalServerError())
}

func asNonNegativeUint32(v expr.Value) (uint32, bool) {
	if u, ok := v.AsUint(); ok {
		if u > math.MaxUint32 {
			return 0, false
		}
		return uint32(u), true
	}
	if n, ok := v.AsInt(); ok {
		if n < 0 || n > math.MaxUint32 {
			return 0, false
		}
		return uint32(n), true
	}
	return 0, false
}
