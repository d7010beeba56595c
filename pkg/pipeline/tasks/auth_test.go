package tasks

import (
	"testing"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/genproto/googleapis/rpc/code"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

func TestAuthTaskSkipsWhenPredicateFalse(t *testing.T) {
	action := baseAuthAction(t)
	action.Predicates = expr.PredicateVec{mustPredicate(t, "false")}
	ctx := newTestContext(withCoreAttributes(newFakeHost()))

	out := NewAuthTask(action).Apply(ctx)
	if out.Kind() != pipeline.KindDone {
		t.Fatalf("expected Done, got %v", out.Kind())
	}
}

func TestAuthTaskRequeuesSelfWhenPredicatePending(t *testing.T) {
	action := baseAuthAction(t)
	action.Predicates = expr.PredicateVec{mustPredicate(t, `request.method == "GET"`)}
	ctx := newTestContext(newFakeHost()) // request.method left unresolved -> Pending

	out := NewAuthTask(action).Apply(ctx)
	if out.Kind() != pipeline.KindRequeued {
		t.Fatalf("expected Requeued, got %v", out.Kind())
	}
}

func TestAuthTaskDispatchesCheckRequest(t *testing.T) {
	action := baseAuthAction(t)
	h := withCoreAttributes(newFakeHost())
	ctx := newTestContext(h)

	out := NewAuthTask(action).Apply(ctx)
	if out.Kind() != pipeline.KindDeferred {
		t.Fatalf("expected Deferred, got %v", out.Kind())
	}
	if !containsDispatch(h.dispatches, authServiceFQN) {
		t.Fatalf("expected a dispatch to %s, got %v", authServiceFQN, h.dispatches)
	}

	var req authv3.CheckRequest
	if err := proto.Unmarshal(h.dispatches[0].message, &req); err != nil {
		t.Fatalf("unmarshal dispatched request: %v", err)
	}
	if req.GetAttributes().GetRequest().GetHttp().GetMethod() != "GET" {
		t.Fatalf("unexpected method in CheckRequest: %q", req.GetAttributes().GetRequest().GetHttp().GetMethod())
	}
	if req.GetAttributes().GetContextExtensions()["host"] != "example.com" {
		t.Fatalf("expected host context extension, got %v", req.GetAttributes().GetContextExtensions())
	}
}

func TestAuthTaskAllowsWithHeaderAppend(t *testing.T) {
	action := baseAuthAction(t)
	h := withCoreAttributes(newFakeHost())
	ctx := newTestContext(h)

	_, pending := dispatchAuth(t, action, ctx)

	okResp := &authv3.CheckResponse{
		Status: &rpcstatus.Status{Code: int32(code.Code_OK)},
		HttpResponse: &authv3.CheckResponse_OkResponse{OkResponse: &authv3.OkHttpResponse{
			Headers: []*corev3.HeaderValueOption{
				{Header: &corev3.HeaderValue{Key: "x-auth-user", Value: "alice"}},
			},
		}},
	}
	raw, err := proto.Marshal(okResp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	h.grpcResponse = raw

	out := pending.Process(ctx)
	if out.Kind() != pipeline.KindRequeued {
		t.Fatalf("expected Requeued with ModifyHeadersTask, got %v", out.Kind())
	}
	if len(out.Requeued()) != 1 {
		t.Fatalf("expected one follow-up task, got %d", len(out.Requeued()))
	}
}

func TestAuthTaskDeniedTerminates(t *testing.T) {
	action := baseAuthAction(t)
	h := withCoreAttributes(newFakeHost())
	ctx := newTestContext(h)

	_, pending := dispatchAuth(t, action, ctx)

	denied := &authv3.CheckResponse{
		Status: &rpcstatus.Status{Code: int32(code.Code_PERMISSION_DENIED)},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{DeniedResponse: &authv3.DeniedHttpResponse{
			Status: &typev3.HttpStatus{Code: typev3.StatusCode_Forbidden},
			Body:   "nope",
		}},
	}
	raw, err := proto.Marshal(denied)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	h.grpcResponse = raw

	out := pending.Process(ctx)
	if out.Kind() != pipeline.KindTerminate {
		t.Fatalf("expected Terminate, got %v", out.Kind())
	}
}

func TestAuthTaskDynamicMetadataStoresData(t *testing.T) {
	action := baseAuthAction(t)
	h := withCoreAttributes(newFakeHost())
	ctx := newTestContext(h)

	_, pending := dispatchAuth(t, action, ctx)

	md, err := structpb.NewStruct(map[string]any{"identity": map[string]any{"user": "alice"}})
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	okResp := &authv3.CheckResponse{
		Status:          &rpcstatus.Status{Code: int32(code.Code_OK)},
		DynamicMetadata: md,
		HttpResponse:    &authv3.CheckResponse_OkResponse{OkResponse: &authv3.OkHttpResponse{}},
	}
	raw, err := proto.Marshal(okResp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	h.grpcResponse = raw

	out := pending.Process(ctx)
	if out.Kind() != pipeline.KindRequeued || len(out.Requeued()) != 1 {
		t.Fatalf("expected a single StoreDataTask requeued, got %v", out)
	}
	if _, ok := out.Requeued()[0].(*StoreDataTask); !ok {
		t.Fatalf("expected a *StoreDataTask, got %T", out.Requeued()[0])
	}
}

func TestAuthTaskFailureModeAllowAdvancesOnNonOKStatus(t *testing.T) {
	action := baseAuthAction(t)
	action.Service.FailureMode = config.FailureModeAllow
	h := withCoreAttributes(newFakeHost())
	ctx := newTestContext(h)

	_, pending := dispatchAuth(t, action, ctx)

	ctx.SetGRPCResponseMeta(14, 0) // e.g. gRPC UNAVAILABLE
	out := pending.Process(ctx)
	if out.Kind() != pipeline.KindDone {
		t.Fatalf("expected Done for failureMode allow, got %v", out.Kind())
	}
	if len(h.replies) != 0 {
		t.Fatalf("expected no synthetic reply, got %v", h.replies)
	}
}

func TestAuthTaskDynamicMetadataDropsListLeaf(t *testing.T) {
	action := baseAuthAction(t)
	h := withCoreAttributes(newFakeHost())
	ctx := newTestContext(h)

	_, pending := dispatchAuth(t, action, ctx)

	md, err := structpb.NewStruct(map[string]any{
		"identity": map[string]any{"user": "alice"},
		"groups":   []any{"a", "b"},
	})
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	okResp := &authv3.CheckResponse{
		Status:          &rpcstatus.Status{Code: int32(code.Code_OK)},
		DynamicMetadata: md,
		HttpResponse:    &authv3.CheckResponse_OkResponse{OkResponse: &authv3.OkHttpResponse{}},
	}
	raw, err := proto.Marshal(okResp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	h.grpcResponse = raw

	out := pending.Process(ctx)
	if out.Kind() != pipeline.KindRequeued || len(out.Requeued()) != 1 {
		t.Fatalf("expected a single StoreDataTask requeued (list leaf dropped), got %v", out)
	}
	store, ok := out.Requeued()[0].(*StoreDataTask)
	if !ok {
		t.Fatalf("expected a *StoreDataTask, got %T", out.Requeued()[0])
	}
	for _, e := range store.entries {
		if e.Path.String() == "auth.groups" {
			t.Fatalf("expected the list leaf auth.groups to be dropped, got entry %v", e)
		}
	}
}

func dispatchAuth(t *testing.T, action *blueprint.Action, ctx *reqctx.Context) (*AuthTask, pipeline.PendingTask) {
	t.Helper()
	task := NewAuthTask(action)
	out := task.Apply(ctx)
	if out.Kind() != pipeline.KindDeferred {
		t.Fatalf("expected Deferred, got %v", out.Kind())
	}
	_, pending := out.Deferred()
	return task, pending
}

func mustPredicate(t *testing.T, src string) *expr.Predicate {
	t.Helper()
	p, err := expr.CompilePredicate(src)
	if err != nil {
		t.Fatalf("compile predicate %q: %v", src, err)
	}
	return p
}
