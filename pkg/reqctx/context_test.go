package reqctx

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
	"github.com/kuadrant/wasm-shim-go/pkg/host"
)

type fakeHost struct {
	attrs       map[string][]byte
	pendingKeys map[string]bool
	reqHeaders  []attr.HeaderPair
	respHeaders []attr.HeaderPair
	sentReply   bool
	respBody    []byte
	hasRespBody bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{attrs: map[string][]byte{}, pendingKeys: map[string]bool{}}
}

// GetAttribute mirrors real host semantics (see internal/httpfilter's
// resolver): a key present in attrs is served; a key explicitly marked
// pending (simulating a phase the host cannot yet serve, e.g. response.*
// during the request-headers phase) reports host.ErrNotAvailable; anything
// else is a genuine, settled absence and returns (nil, nil).
func (f *fakeHost) GetAttribute(_ context.Context, p attr.Path) ([]byte, error) {
	key := p.String()
	if v, ok := f.attrs[key]; ok {
		return v, nil
	}
	if f.pendingKeys[key] {
		return nil, host.ErrNotAvailable
	}
	return nil, nil
}

func (f *fakeHost) GetAttributeMap(_ context.Context, kind host.MapKind) ([]attr.HeaderPair, error) {
	if kind == host.RequestHeaders {
		return f.reqHeaders, nil
	}
	return f.respHeaders, nil
}

func (f *fakeHost) SetAttribute(_ context.Context, p attr.Path, value []byte) error {
	f.attrs[p.String()] = value
	return nil
}

func (f *fakeHost) SetAttributeMap(_ context.Context, kind host.MapKind, headers attr.Headers) error {
	if kind == host.RequestHeaders {
		f.reqHeaders = headers.Entries()
	} else {
		f.respHeaders = headers.Entries()
	}
	return nil
}

func (f *fakeHost) DispatchGRPCCall(_ context.Context, upstream, service, method string, headers attr.Headers, message []byte, timeout time.Duration) (uint32, error) {
	return 1, nil
}

func (f *fakeHost) GetGRPCResponse(_ context.Context, size int) ([]byte, error) {
	return nil, nil
}

func (f *fakeHost) SendHTTPReply(_ context.Context, status int, headers attr.Headers, body []byte) error {
	f.sentReply = true
	return nil
}

func (f *fakeHost) GetHTTPResponseBody(_ context.Context, start, size int) ([]byte, error) {
	if !f.hasRespBody {
		return nil, host.ErrNotAvailable
	}
	return f.respBody, nil
}

func TestRemoteAddressStripsPort(t *testing.T) {
	fh := newFakeHost()
	fh.attrs["source.address"] = []byte("10.0.0.1:54321")
	c := New(context.Background(), fh, logr.Discard())

	state, err := c.fetchBytes(attr.NewPath("source", "remote_address"))
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := state.Value()
	if !ok || raw == nil || string(raw) != "10.0.0.1" {
		t.Fatalf("got %q state=%+v", raw, state)
	}
}

func TestAuthPathRewrittenToFilterState(t *testing.T) {
	fh := newFakeHost()
	fh.attrs[`filter_state.wasm\.kuadrant\.auth.identity.user`] = []byte("alice")
	c := New(context.Background(), fh, logr.Discard())

	state, err := c.fetchBytes(attr.ParsePath("auth.identity.user"))
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := state.Value()
	if !ok || raw == nil || string(raw) != "alice" {
		t.Fatalf("got %q state=%+v", raw, state)
	}
}

func TestFetchBytesCachesResult(t *testing.T) {
	fh := newFakeHost()
	fh.attrs["request.method"] = []byte("GET")
	c := New(context.Background(), fh, logr.Discard())
	p := attr.NewPath("request", "method")

	if _, err := c.fetchBytes(p); err != nil {
		t.Fatal(err)
	}
	fh.attrs["request.method"] = []byte("POST")
	state, err := c.fetchBytes(p)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := state.Value()
	if string(raw) != "GET" {
		t.Fatalf("expected cached GET, got %q", raw)
	}
}

func TestPendingIsNotCached(t *testing.T) {
	fh := newFakeHost()
	fh.pendingKeys["response.code"] = true
	c := New(context.Background(), fh, logr.Discard())
	p := attr.NewPath("response", "code")

	state, err := c.fetchBytes(p)
	if err != nil || !state.IsPending() {
		t.Fatalf("expected pending, got state=%+v err=%v", state, err)
	}
	if c.cache.Contains(p) {
		t.Fatal("pending reads must not be cached")
	}

	fh.attrs["response.code"] = []byte{200, 0, 0, 0, 0, 0, 0, 0}
	state, err = c.fetchBytes(p)
	if err != nil || state.IsPending() {
		t.Fatalf("expected available after host catches up, got %+v %v", state, err)
	}
	raw, ok := state.Value()
	if !ok || len(raw) == 0 {
		t.Fatalf("expected available after host catches up, got %v %v %v", raw, ok, err)
	}
}

// TestAbsentAttributeIsAvailableNotPending guards against collapsing a
// host-confirmed absence into Pending: a predicate referencing an auth.*
// key ext_authz never populated must settle immediately (as null), not
// requeue forever waiting for a value that will never arrive.
func TestAbsentAttributeIsAvailableNotPending(t *testing.T) {
	fh := newFakeHost()
	c := New(context.Background(), fh, logr.Discard())
	p := attr.ParsePath("auth.identity.user")

	state, err := c.fetchBytes(p)
	if err != nil {
		t.Fatal(err)
	}
	if state.IsPending() {
		t.Fatal("a genuinely absent attribute must not be reported as Pending")
	}
	raw, ok := state.Value()
	if !ok || raw != nil {
		t.Fatalf("expected Available(nil), got raw=%q ok=%v", raw, ok)
	}

	v, available, err := c.ResolveAttribute("auth.identity.user")
	if err != nil {
		t.Fatal(err)
	}
	if !available {
		t.Fatal("expected the expression layer to see this as available (null), not pending")
	}
	if v.Kind() != expr.KindNull {
		t.Fatalf("expected null, got %+v", v)
	}
}

func TestRequestIDResolvesOnceFromHeader(t *testing.T) {
	fh := newFakeHost()
	fh.reqHeaders = []attr.HeaderPair{{Name: "x-request-id", Value: "abc-123"}}
	c := New(context.Background(), fh, logr.Discard())

	id1, err := c.RequestID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "abc-123" {
		t.Fatalf("got %q", id1)
	}
	fh.reqHeaders = nil
	id2, err := c.RequestID()
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1 {
		t.Fatalf("expected stable id, got %q then %q", id1, id2)
	}
}

func TestRequestIDMintedWhenHeaderAbsent(t *testing.T) {
	fh := newFakeHost()
	c := New(context.Background(), fh, logr.Discard())
	id, err := c.RequestID()
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 36 {
		t.Fatalf("expected a UUID string, got %q", id)
	}
}

func TestSetAttributeNamespacesWriteButNotCacheKey(t *testing.T) {
	fh := newFakeHost()
	c := New(context.Background(), fh, logr.Discard())
	p := attr.ParsePath("auth.identity.user")

	if err := c.SetAttribute(p, []byte("bob")); err != nil {
		t.Fatal(err)
	}
	if _, ok := fh.attrs["kuadrant.auth.identity.user"]; !ok {
		t.Fatalf("expected namespaced write, got keys %v", fh.attrs)
	}
	state, err := c.fetchBytes(p)
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := state.Value()
	if !ok || raw == nil || string(raw) != "bob" {
		t.Fatalf("expected cached read under original path, got %q state=%+v", raw, state)
	}
}
