// Package tasks implements the concrete action tasks (spec §4.9) that a
// compiled blueprint.Action instantiates: AuthTask, RateLimitTask,
// ModifyHeadersTask, StoreDataTask, and SendReplyTask.
package tasks

import (
	"encoding/json"
	"net"
	"sort"
	"strconv"
	"strings"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

const authServiceFQN = "envoy.service.auth.v3.Authorization"

// AuthTask dispatches a Check call to the action's configured auth
// service, gates on the action's predicates, and interprets the response
// into follow-up tasks (spec §4.9).
type AuthTask struct {
	action *blueprint.Action
}

// NewAuthTask instantiates an AuthTask bound to a compiled Action.
func NewAuthTask(action *blueprint.Action) *AuthTask { return &AuthTask{action: action} }

func (t *AuthTask) ID() (string, bool)     { return "", false }
func (t *AuthTask) Dependencies() []string { return nil }
func (t *AuthTask) PausesFilter() bool     { return true }

func (t *AuthTask) Apply(ctx *reqctx.Context) pipeline.Outcome {
	gate, err := t.action.Predicates.Apply(ctx)
	if err != nil {
		ctx.Logger().V(1).Info("auth task: predicate evaluation failed", "error", err)
		return t.failOutcome()
	}
	if gate.IsPending() {
		return pipeline.Requeued(t)
	}
	if !gate.MustValue() {
		return pipeline.Done()
	}

	req, err := t.buildCheckRequest(ctx)
	if err != nil {
		ctx.Logger().V(1).Info("auth task: build check request failed", "error", err)
		return t.failOutcome()
	}

	msg, err := proto.Marshal(req)
	if err != nil {
		ctx.Logger().V(1).Info("auth task: marshal check request failed", "error", err)
		return t.failOutcome()
	}

	token, err := ctx.DispatchGRPCCall(t.action.Service.Endpoint, authServiceFQN, "Check", attr.Headers{}, msg, t.action.Service.Timeout.AsTime())
	if err != nil {
		ctx.Logger().V(1).Info("auth task: dispatch failed", "error", err)
		return t.failOutcome()
	}

	return pipeline.Deferred(token, pipeline.PendingTask{
		Pauses:  true,
		Process: t.processResponse,
	})
}

func (t *AuthTask) processResponse(ctx *reqctx.Context) pipeline.Outcome {
	if ctx.GRPCResponseStatus() != 0 {
		ctx.Logger().V(1).Info("auth task: non-OK gRPC status", "status", ctx.GRPCResponseStatus())
		return t.failOutcome()
	}

	raw, err := ctx.GetGRPCResponse(ctx.GRPCResponseSize())
	if err != nil {
		ctx.Logger().V(1).Info("auth task: read response failed", "error", err)
		return t.failOutcome()
	}

	var resp authv3.CheckResponse
	if err := proto.Unmarshal(raw, &resp); err != nil {
		ctx.Logger().V(1).Info("auth task: decode response failed", "error", err)
		return t.failOutcome()
	}

	if resp.GetStatus().GetCode() != int32(code.Code_OK) {
		return t.denyOutcome(resp.GetDeniedResponse())
	}

	var followUp []pipeline.Task
	if md := resp.GetDynamicMetadata(); md != nil {
		entries := flattenStruct(ctx, "auth", md)
		if len(entries) > 0 {
			followUp = append(followUp, NewStoreDataTask(entries))
		}
	}

	switch typed := resp.GetHttpResponse().(type) {
	case *authv3.CheckResponse_OkResponse:
		ok := typed.OkResponse
		if len(ok.GetResponseHeadersToAdd()) > 0 || len(ok.GetHeadersToRemove()) > 0 ||
			len(ok.GetQueryParametersToSet()) > 0 || len(ok.GetQueryParametersToRemove()) > 0 {
			ctx.Logger().V(1).Info("auth task: OkResponse carries unsupported fields")
			return t.failOutcome()
		}
		if len(ok.GetHeaders()) > 0 {
			mods := make([]HeaderMod, 0, len(ok.GetHeaders()))
			for _, h := range ok.GetHeaders() {
				mods = append(mods, HeaderMod{Name: h.GetHeader().GetKey(), Value: string(h.GetHeader().GetRawValue())})
			}
			followUp = append(followUp, NewModifyHeadersTask(ModifyHeadersAppend, mods, RequestHeaders))
		}
	case *authv3.CheckResponse_DeniedResponse:
		return t.denyOutcome(typed.DeniedResponse)
	}

	if len(followUp) == 0 {
		return pipeline.Done()
	}
	return pipeline.Requeued(followUp...)
}

func (t *AuthTask) denyOutcome(denied *authv3.DeniedHttpResponse) pipeline.Outcome {
	status := 403
	if s := denied.GetStatus(); s != nil && s.GetCode() != 0 {
		status = int(s.GetCode())
	}
	h := attr.Headers{}
	for _, hv := range denied.GetHeaders() {
		h.Append(hv.GetHeader().GetKey(), string(hv.GetHeader().GetRawValue()))
	}
	return pipeline.Terminate(NewSendReplyTask(status, h, []byte(denied.GetBody())))
}

func (t *AuthTask) failOutcome() pipeline.Outcome {
	if t.action.Service.FailureMode == config.FailureModeAllow {
		return pipeline.Done()
	}
	return pipeline.Terminate(InternalServerError())
}

func (t *AuthTask) buildCheckRequest(ctx *reqctx.Context) (*authv3.CheckRequest, error) {
	headers, err := ctx.RequestHeaders()
	if err != nil {
		return nil, err
	}
	hdrMap := make(map[string]string, headers.Len())
	for _, p := range headers.Entries() {
		hdrMap[strings.ToLower(p.Name)] = p.Value
	}

	method, err := reqctx.GetRequired(ctx, attr.NewPath("request", "method"), attr.ParseString)
	if err != nil {
		return nil, err
	}
	path, err := reqctx.GetRequired(ctx, attr.NewPath("request", "path"), attr.ParseString)
	if err != nil {
		return nil, err
	}
	scheme, err := reqctx.GetRequired(ctx, attr.NewPath("request", "scheme"), attr.ParseString)
	if err != nil {
		return nil, err
	}
	host, err := reqctx.GetRequired(ctx, attr.NewPath("request", "host"), attr.ParseString)
	if err != nil {
		return nil, err
	}
	protocol, err := reqctx.GetRequired(ctx, attr.NewPath("request", "protocol"), attr.ParseString)
	if err != nil {
		return nil, err
	}
	reqID, err := ctx.RequestID()
	if err != nil {
		return nil, err
	}

	sourceAddr, err := reqctx.GetRequired(ctx, attr.NewPath("source", "address"), attr.ParseString)
	if err != nil {
		return nil, err
	}
	destAddr, err := reqctx.GetRequired(ctx, attr.NewPath("destination", "address"), attr.ParseString)
	if err != nil {
		return nil, err
	}

	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Source:      &authv3.AttributeContext_Peer{Address: socketAddress(sourceAddr)},
			Destination: &authv3.AttributeContext_Peer{Address: socketAddress(destAddr)},
			Request: &authv3.AttributeContext_Request{
				Time: timestamppb.Now(),
				Http: &authv3.AttributeContext_HttpRequest{
					Id:       reqID,
					Method:   method,
					Headers:  hdrMap,
					Path:     path,
					Host:     host,
					Scheme:   scheme,
					Protocol: protocol,
				},
			},
			ContextExtensions: map[string]string{"host": t.action.Scope},
		},
	}, nil
}

// socketAddress renders a "host:port" or bare-host string as an Envoy
// SocketAddress, defaulting the port to 0 when absent.
func socketAddress(addr string) *corev3.Address {
	host, portStr, err := net.SplitHostPort(addr)
	port := 0
	if err != nil {
		host = addr
	} else if p, perr := strconv.Atoi(portStr); perr == nil {
		port = p
	}
	return &corev3.Address{Address: &corev3.Address_SocketAddress{
		SocketAddress: &corev3.SocketAddress{
			Address:       host,
			PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: uint32(port)},
		},
	}}
}

// flattenStruct walks md depth-first, producing (path, json-bytes) pairs
// for StoreDataTask under the given top-level prefix (spec §4.9). Null
// leaves are skipped; leaves that are neither scalar nor struct are logged
// and dropped.
func flattenStruct(ctx *reqctx.Context, prefix string, s *structpb.Struct) []StoreEntry {
	var out []StoreEntry
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, flattenValue(ctx, prefix+"."+k, s.GetFields()[k])...)
	}
	return out
}

func flattenValue(ctx *reqctx.Context, path string, v *structpb.Value) []StoreEntry {
	switch kv := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		return flattenStruct(ctx, path, kv.StructValue)
	case *structpb.Value_NullValue:
		return nil
	case *structpb.Value_StringValue, *structpb.Value_NumberValue, *structpb.Value_BoolValue:
		b, err := json.Marshal(structValueToNative(v))
		if err != nil {
			return nil
		}
		return []StoreEntry{{Path: attr.ParsePath(path), Value: b}}
	default:
		ctx.Logger().V(1).Info("auth task: dropping non-scalar dynamic_metadata leaf", "path", path)
		return nil
	}
}

func structValueToNative(v *structpb.Value) any {
	switch kv := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kv.StringValue
	case *structpb.Value_NumberValue:
		return kv.NumberValue
	case *structpb.Value_BoolValue:
		return kv.BoolValue
	default:
		return nil
	}
}
