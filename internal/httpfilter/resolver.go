package httpfilter

import (
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"time"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/host"
)

// grpcResult is the outcome of one completed (synchronous, from the
// resolver's point of view) gRPC dispatch: the status the pipeline's task
// layer gates on, and the raw response payload GetGRPCResponse hands back.
type grpcResult struct {
	status  int
	payload []byte
}

// grpcDispatcher is the subset of *dispatcher the resolver depends on,
// narrowed to a small interface so tests can swap in a fake that skips
// the real network dial.
type grpcDispatcher interface {
	dispatch(ctx context.Context, upstream, service, method string, message []byte, timeout time.Duration) (status int, payload []byte, err error)
}

// resolver is the per-request host.Resolver implementation: it answers
// attribute/header-map reads directly out of an inbound *http.Request,
// blocks on real gRPC calls through a shared dispatcher, and records
// whatever a task asks of a not-yet-fetched upstream response so the
// driving ServeHTTP loop knows when it must actually call the wrapped
// handler. It is owned by exactly one request and is not safe for
// concurrent use, matching pkg/reqctx.Context's own contract.
type resolver struct {
	dispatcher grpcDispatcher

	attrs      map[string][]byte
	reqHeaders attr.Headers

	upstreamCalled bool
	needsUpstream  bool
	respStatus     int
	respHeaders    attr.Headers
	respBody       []byte

	nextToken    uint32
	pending      map[uint32]grpcResult
	ready        []uint32
	activeResult grpcResult

	replySent    bool
	replyStatus  int
	replyHeaders attr.Headers
	replyBody    []byte
}

func newResolver(r *http.Request, d grpcDispatcher) *resolver {
	res := &resolver{
		dispatcher: d,
		attrs:      map[string][]byte{},
		pending:    map[uint32]grpcResult{},
		reqHeaders: headersFromHTTP(r.Header),
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	res.attrs["request.method"] = []byte(r.Method)
	res.attrs["request.path"] = []byte(r.URL.RequestURI())
	res.attrs["request.scheme"] = []byte(scheme)
	res.attrs["request.host"] = []byte(stripHostPort(r.Host))
	res.attrs["request.protocol"] = []byte(r.Proto)
	// source.remote_address is deliberately not seeded here: it is not a
	// real host attribute (spec.md §4.4) and must be derived by the request
	// context from source.address, not served directly.
	res.attrs["source.address"] = []byte(r.RemoteAddr)
	destAddr := ""
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		destAddr = addr.String()
	}
	res.attrs["destination.address"] = []byte(destAddr)

	return res
}

func stripHostPort(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

func encodeInt64(v int64) []byte {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, uint64(v))
	return raw
}

func (res *resolver) GetAttribute(_ context.Context, p attr.Path) ([]byte, error) {
	key := p.String()
	if v, ok := res.attrs[key]; ok {
		return v, nil
	}
	if p.HasPrefix("response") {
		if !res.upstreamCalled {
			res.needsUpstream = true
			return nil, host.ErrNotAvailable
		}
		return nil, nil
	}
	return nil, nil
}

func (res *resolver) GetAttributeMap(_ context.Context, kind host.MapKind) ([]attr.HeaderPair, error) {
	switch kind {
	case host.RequestHeaders:
		return res.reqHeaders.Entries(), nil
	case host.ResponseHeaders:
		if !res.upstreamCalled {
			res.needsUpstream = true
			return nil, host.ErrNotAvailable
		}
		return res.respHeaders.Entries(), nil
	}
	return nil, nil
}

func (res *resolver) SetAttribute(_ context.Context, p attr.Path, value []byte) error {
	res.attrs[p.String()] = value
	return nil
}

func (res *resolver) SetAttributeMap(_ context.Context, kind host.MapKind, headers attr.Headers) error {
	switch kind {
	case host.RequestHeaders:
		res.reqHeaders = headers
	case host.ResponseHeaders:
		res.respHeaders = headers
	}
	return nil
}

func (res *resolver) DispatchGRPCCall(ctx context.Context, upstream, service, method string, _ attr.Headers, message []byte, timeout time.Duration) (uint32, error) {
	status, payload, err := res.dispatcher.dispatch(ctx, upstream, service, method, message, timeout)
	if err != nil {
		return 0, err
	}
	res.nextToken++
	tok := res.nextToken
	res.pending[tok] = grpcResult{status: status, payload: payload}
	res.ready = append(res.ready, tok)
	return tok, nil
}

func (res *resolver) GetGRPCResponse(_ context.Context, _ int) ([]byte, error) {
	return res.activeResult.payload, nil
}

func (res *resolver) SendHTTPReply(_ context.Context, status int, headers attr.Headers, body []byte) error {
	res.replySent = true
	res.replyStatus = status
	res.replyHeaders = headers
	res.replyBody = body
	return nil
}

func (res *resolver) GetHTTPResponseBody(_ context.Context, start, size int) ([]byte, error) {
	if !res.upstreamCalled {
		res.needsUpstream = true
		return nil, host.ErrNotAvailable
	}
	body := res.respBody
	if start >= len(body) {
		return []byte{}, nil
	}
	end := len(body)
	if size >= 0 && start+size < end {
		end = start + size
	}
	return body[start:end], nil
}

// popReady pops the oldest completed gRPC token the driver loop has not
// yet digested, and stages its result as the "active" response GetGRPCResponse
// answers with — the host ABI carries no token parameter on that call, so
// the driver must set this immediately before digesting the matching token.
func (res *resolver) popReady() (uint32, grpcResult, bool) {
	if len(res.ready) == 0 {
		return 0, grpcResult{}, false
	}
	tok := res.ready[0]
	res.ready = res.ready[1:]
	result := res.pending[tok]
	delete(res.pending, tok)
	res.activeResult = result
	return tok, result, true
}

// recordUpstreamResponse stores the real upstream response the driver loop
// captured and populates the response-scope attributes subsequent task
// reads expect, marking response data available from this point on.
func (res *resolver) recordUpstreamResponse(status int, headers attr.Headers, body []byte) {
	res.upstreamCalled = true
	res.needsUpstream = false
	res.respStatus = status
	res.respHeaders = headers
	res.respBody = body
	res.attrs["response.code"] = encodeInt64(int64(status))
}
