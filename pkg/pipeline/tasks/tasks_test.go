package tasks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/host"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

// fakeHost serves canned attribute values and records every gRPC dispatch
// and synthetic reply, so task tests can assert on outbound requests
// without a real Envoy/gRPC peer.
type fakeHost struct {
	attrs        map[string][]byte
	reqHeaders   attr.Headers
	respHeaders  attr.Headers
	grpcResponse []byte

	dispatches []dispatchCall
	replies    []replyCall
}

type dispatchCall struct {
	upstream, service, method string
	message                   []byte
}

type replyCall struct {
	status  int
	headers attr.Headers
	body    []byte
}

func newFakeHost() *fakeHost {
	return &fakeHost{attrs: map[string][]byte{}, reqHeaders: attr.NewHeaders()}
}

func (f *fakeHost) withString(path string, v string) *fakeHost {
	f.attrs[path] = []byte(v)
	return f
}

func (f *fakeHost) GetAttribute(_ context.Context, path attr.Path) ([]byte, error) {
	v, ok := f.attrs[path.String()]
	if !ok {
		return nil, host.ErrNotAvailable
	}
	return v, nil
}

func (f *fakeHost) GetAttributeMap(_ context.Context, kind host.MapKind) ([]attr.HeaderPair, error) {
	if kind == host.ResponseHeaders {
		return f.respHeaders.Entries(), nil
	}
	return f.reqHeaders.Entries(), nil
}

func (f *fakeHost) SetAttribute(_ context.Context, path attr.Path, value []byte) error {
	f.attrs[path.String()] = value
	return nil
}

func (f *fakeHost) SetAttributeMap(_ context.Context, kind host.MapKind, headers attr.Headers) error {
	if kind == host.ResponseHeaders {
		f.respHeaders = headers
	} else {
		f.reqHeaders = headers
	}
	return nil
}

func (f *fakeHost) DispatchGRPCCall(_ context.Context, upstream, service, method string, _ attr.Headers, message []byte, _ time.Duration) (uint32, error) {
	f.dispatches = append(f.dispatches, dispatchCall{upstream: upstream, service: service, method: method, message: message})
	return uint32(len(f.dispatches)), nil
}

func (f *fakeHost) GetGRPCResponse(context.Context, int) ([]byte, error) { return f.grpcResponse, nil }

func (f *fakeHost) SendHTTPReply(_ context.Context, status int, headers attr.Headers, body []byte) error {
	f.replies = append(f.replies, replyCall{status: status, headers: headers, body: body})
	return nil
}

func (f *fakeHost) GetHTTPResponseBody(context.Context, int, int) ([]byte, error) {
	return nil, host.ErrNotAvailable
}

func newTestContext(h *fakeHost) *reqctx.Context {
	return reqctx.New(context.Background(), h, logr.Discard())
}

func baseAuthAction(t *testing.T) *blueprint.Action {
	t.Helper()
	return &blueprint.Action{
		Service: &blueprint.Service{
			Name:        "authz",
			Type:        config.ServiceAuth,
			Endpoint:    "authz-cluster",
			FailureMode: config.FailureModeDeny,
			Timeout:     config.Duration(100 * time.Millisecond),
		},
		Scope: "example.com",
	}
}

func baseRateLimitAction(t *testing.T) *blueprint.Action {
	t.Helper()
	return &blueprint.Action{
		Service: &blueprint.Service{
			Name:        "limitador",
			Type:        config.ServiceRateLimit,
			Endpoint:    "limitador-cluster",
			FailureMode: config.FailureModeDeny,
			Timeout:     config.Duration(100 * time.Millisecond),
		},
		Scope: "example.com",
	}
}

func withCoreAttributes(h *fakeHost) *fakeHost {
	return h.
		withString("request.method", "GET").
		withString("request.path", "/foo").
		withString("request.scheme", "https").
		withString("request.host", "example.com").
		withString("request.protocol", "HTTP/1.1").
		withString("source.address", "10.0.0.1:5000").
		withString("destination.address", "10.0.0.2:443")
}

func containsDispatch(calls []dispatchCall, service string) bool {
	for _, c := range calls {
		if strings.Contains(c.service, service) {
			return true
		}
	}
	return false
}
