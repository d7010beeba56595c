// Package reqctx implements the per-request Request Context: the single
// owner of a request's attribute cache, host resolver, and request-id, and
// the bridge between the pipeline/task layer and pkg/expr's Resolver
// interface.
package reqctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/cache"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
	"github.com/kuadrant/wasm-shim-go/pkg/host"
	"github.com/kuadrant/wasm-shim-go/pkg/observability/tracing"
)

// Context owns everything scoped to one in-flight HTTP request: the host
// resolver, the attribute cache, the resolved request id, and buffered
// request/response bodies for the JSON-pointer expression helpers. It is
// never shared across requests and is not safe for concurrent use; a
// Pipeline evaluates it synchronously.
type Context struct {
	ctx      context.Context
	resolver host.Resolver
	cache    *cache.Cache
	logger   logr.Logger

	requestID   string
	hasReqID    bool

	bodies bodyStore

	grpcStatus int
	grpcSize   int
}

// New constructs a Context bound to resolver for the lifetime of one
// request.
func New(ctx context.Context, resolver host.Resolver, logger logr.Logger) *Context {
	return &Context{
		ctx:      ctx,
		resolver: resolver,
		cache:    cache.New(),
		logger:   logger,
		bodies:   newBodyStore(),
	}
}

// Logger exposes the per-request logger for tasks and the pipeline to log
// through.
func (c *Context) Logger() logr.Logger { return c.logger }

// SetGRPCResponseMeta records the status and payload size of the gRPC call
// that just completed, ahead of invoking a PendingTask's Process closure.
// Tasks read it back via GRPCResponseStatus/GRPCResponseSize before calling
// GetGRPCResponse.
func (c *Context) SetGRPCResponseMeta(status, size int) {
	c.grpcStatus = status
	c.grpcSize = size
}

// GRPCResponseStatus returns the status of the most recently digested gRPC
// call.
func (c *Context) GRPCResponseStatus() int { return c.grpcStatus }

// GRPCResponseSize returns the payload size of the most recently digested
// gRPC call, for use with GetGRPCResponse.
func (c *Context) GRPCResponseSize() int { return c.grpcSize }

// HostResolver exposes the underlying host.Resolver for callers (tasks) that
// need to talk to the host directly rather than through the attribute
// cache, such as dispatching gRPC calls or sending a synthetic reply.
func (c *Context) HostResolver() host.Resolver { return c.resolver }

// Cache exposes the attribute cache for callers that need to pre-warm it
// or inspect what is already known.
func (c *Context) Cache() *cache.Cache { return c.cache }

// GetAttribute reads path, parsing its raw bytes with parse. It is a
// package-level function (not a method) because Go methods cannot carry
// their own type parameters. A genuine host-reported absence is
// Available(zero-T), distinct from Pending: callers that need to tell the
// two apart (e.g. GetRequired) must go by way of fetchBytes directly.
func GetAttribute[T any](c *Context, path attr.Path, parse func([]byte) (T, error)) (attr.State[T], error) {
	s, err := c.fetchBytes(path)
	if err != nil {
		return attr.State[T]{}, err
	}
	if s.IsPending() {
		return attr.Pending[T](), nil
	}
	raw, _ := s.Value()
	if raw == nil {
		var zero T
		return attr.Available(zero), nil
	}
	v, err := parse(raw)
	if err != nil {
		return attr.State[T]{}, fmt.Errorf("reqctx: parse %q: %w", path.String(), err)
	}
	return attr.Available(v), nil
}

// GetRequired reads path and fails loudly if it is Pending or genuinely
// absent, for use after a task's predicate gate has already established it
// must be available.
func GetRequired[T any](c *Context, path attr.Path, parse func([]byte) (T, error)) (T, error) {
	var zero T
	s, err := c.fetchBytes(path)
	if err != nil {
		return zero, err
	}
	if s.IsPending() {
		return zero, fmt.Errorf("reqctx: attribute %q required but not yet available", path.String())
	}
	raw, _ := s.Value()
	if raw == nil {
		return zero, fmt.Errorf("reqctx: attribute %q required but absent", path.String())
	}
	v, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("reqctx: parse %q: %w", path.String(), err)
	}
	return v, nil
}

// EnsureAttributes best-effort warms the cache for every path, so a later
// batch of reads (e.g. building a descriptor list) does not pay per-path
// host round trips one at a time. A path that comes back Pending is left
// uncached, and an absent one is cached as absent; callers still check
// availability on read.
func (c *Context) EnsureAttributes(paths []attr.Path) error {
	for _, p := range paths {
		if c.cache.Contains(p) {
			continue
		}
		if _, err := c.fetchBytes(p); err != nil {
			return err
		}
	}
	return nil
}

// SetAttribute writes a value produced by a task (e.g. StoreDataTask) under
// the kuadrant-owned attribute namespace, so it never collides with a host
// or upstream-owned attribute, while caching it under its original,
// unnamespaced path so later reads in the same request see it immediately.
func (c *Context) SetAttribute(path attr.Path, raw []byte) error {
	written := path.WithPrefix("kuadrant")
	if err := c.resolver.SetAttribute(c.ctx, written, raw); err != nil {
		return fmt.Errorf("reqctx: set attribute %q: %w", path.String(), err)
	}
	c.cache.Insert(path, cache.BytesValue(raw, true))
	return nil
}

// fetchBytes resolves path's three-state availability — Available(nil) for
// a host-confirmed absence, Available(raw) for a present value, Pending if
// the host cannot yet serve it in this phase — special-casing the handful
// of attributes that need host-side rewriting rather than a direct
// GetAttribute call, and routing everything through the request cache.
// Absence and Pending must stay distinct (spec.md §3): only Pending reads
// are excluded from the cache, since they may become available in a later
// pipeline phase of the same request, while an absent attribute is a
// settled answer that must not be re-fetched or mistaken for Pending by
// callers that would otherwise requeue on it forever.
func (c *Context) fetchBytes(path attr.Path) (attr.State[[]byte], error) {
	if c.cache.Contains(path) {
		raw, present, err := c.cache.GetOrInsertBytes(path, func() (cache.Value, error) {
			return cache.Value{}, fmt.Errorf("reqctx: unreachable loader for already-cached path %q", path.String())
		})
		if err != nil {
			return attr.State[[]byte]{}, err
		}
		if !present {
			return attr.Available[[]byte](nil), nil
		}
		return attr.Available(raw), nil
	}

	raw, err := c.fetchFromHost(path)
	if err != nil {
		if errors.Is(err, host.ErrNotAvailable) {
			// Deliberately not cached: a Pending read may become
			// available in a later pipeline phase of the same request.
			return attr.Pending[[]byte](), nil
		}
		return attr.State[[]byte]{}, err
	}
	c.cache.Insert(path, cache.BytesValue(raw, raw != nil))
	return attr.Available(raw), nil
}

var (
	authPrefix  = attr.NewPath("auth")
	remoteAddr  = attr.NewPath("source", "remote_address")
	sourceAddr  = attr.NewPath("source", "address")
	reqHeaders  = attr.NewPath("request", "headers")
	respHeaders = attr.NewPath("response", "headers")
)

func (c *Context) fetchFromHost(path attr.Path) ([]byte, error) {
	switch {
	case path.Equal(reqHeaders):
		return c.fetchHeaderMap(host.RequestHeaders)
	case path.Equal(respHeaders):
		return c.fetchHeaderMap(host.ResponseHeaders)
	case path.HasPrefix("auth"):
		return c.resolver.GetAttribute(c.ctx, rewriteAuthPath(path))
	case path.Equal(remoteAddr):
		// source.remote_address is not a host-served attribute; it is
		// derived by stripping the port off source.address (spec.md §4.4).
		raw, err := c.resolver.GetAttribute(c.ctx, sourceAddr)
		if err != nil || raw == nil {
			return raw, err
		}
		s, err := attr.ParseString(raw)
		if err != nil {
			return nil, err
		}
		return []byte(stripPort(s)), nil
	default:
		return c.resolver.GetAttribute(c.ctx, path)
	}
}

// rewriteAuthTokens is the fixed path prefix auth.* attributes are actually
// stored under: the ext_authz filter's dynamic metadata, namespaced under
// a single escaped "wasm.kuadrant.auth" filter-state key.
var rewriteAuthTokens = []string{"filter_state", "wasm.kuadrant.auth"}

func rewriteAuthPath(p attr.Path) attr.Path {
	tokens := p.Tokens()
	rest := tokens[1:] // drop the leading "auth" token
	out := make([]string, 0, len(rewriteAuthTokens)+len(rest))
	out = append(out, rewriteAuthTokens...)
	out = append(out, rest...)
	return attr.NewPath(out...)
}

func stripPort(s string) string {
	h, _, err := net.SplitHostPort(s)
	if err != nil {
		return s
	}
	return h
}

func (c *Context) fetchHeaderMap(kind host.MapKind) ([]byte, error) {
	pairs, err := c.resolver.GetAttributeMap(c.ctx, kind)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key := strings.ToLower(p.Name)
		if _, exists := m[key]; exists {
			continue
		}
		m[key] = p.Value
	}
	return json.Marshal(m)
}

// RequestHeaders returns the request's header map as an ordered,
// duplicate-preserving Headers value, bypassing the byte-cache JSON
// encoding used by the expression layer's request.headers attribute.
// Action tasks that need to build or mutate a real header map (AuthTask's
// CheckRequest, ModifyHeadersTask) use this rather than GetAttribute.
func (c *Context) RequestHeaders() (attr.Headers, error) {
	pairs, err := c.resolver.GetAttributeMap(c.ctx, host.RequestHeaders)
	if err != nil {
		return attr.Headers{}, fmt.Errorf("reqctx: get request headers: %w", err)
	}
	return attr.NewHeaders(pairs...), nil
}

// ResponseHeaders returns the response's header map. Reading it outside
// the response-headers phase surfaces as host.ErrNotAvailable, which
// callers should translate to Pending the same way GetHTTPResponseBody
// does.
func (c *Context) ResponseHeaders() (attr.Headers, error) {
	pairs, err := c.resolver.GetAttributeMap(c.ctx, host.ResponseHeaders)
	if err != nil {
		return attr.Headers{}, fmt.Errorf("reqctx: get response headers: %w", err)
	}
	return attr.NewHeaders(pairs...), nil
}

// SetRequestHeaders replaces the request header map wholesale.
func (c *Context) SetRequestHeaders(h attr.Headers) error {
	if err := c.resolver.SetAttributeMap(c.ctx, host.RequestHeaders, h); err != nil {
		return fmt.Errorf("reqctx: set request headers: %w", err)
	}
	return nil
}

// SetResponseHeaders replaces the response header map wholesale.
func (c *Context) SetResponseHeaders(h attr.Headers) error {
	if err := c.resolver.SetAttributeMap(c.ctx, host.ResponseHeaders, h); err != nil {
		return fmt.Errorf("reqctx: set response headers: %w", err)
	}
	return nil
}

// RequestID returns this request's id, resolving it exactly once: from an
// inbound x-request-id header if present, otherwise a freshly minted
// UUIDv4. Every later call returns the same value.
func (c *Context) RequestID() (string, error) {
	if c.hasReqID {
		return c.requestID, nil
	}
	headers, err := c.resolver.GetAttributeMap(c.ctx, host.RequestHeaders)
	if err != nil {
		return "", fmt.Errorf("reqctx: resolve request id: %w", err)
	}
	hdrs := attr.NewHeaders(headers...)
	if v, ok := hdrs.Get("x-request-id"); ok && v != "" {
		c.requestID = v
	} else {
		c.requestID = uuid.NewString()
	}
	c.hasReqID = true
	return c.requestID, nil
}

// DispatchGRPCCall issues an outbound gRPC call, injecting the resolved
// request id as an outbound header so ext_authz/rate-limit backends can
// correlate logs back to the originating request.
func (c *Context) DispatchGRPCCall(upstream, service, method string, headers attr.Headers, message []byte, timeout time.Duration) (uint32, error) {
	reqID, err := c.RequestID()
	if err != nil {
		return 0, err
	}
	out := headers.Clone()
	out.Set("x-request-id", reqID)
	tracing.InjectGRPCMetadata(c.ctx, tracing.HeadersCarrier{Headers: &out})
	return c.resolver.DispatchGRPCCall(c.ctx, upstream, service, method, out, message, timeout)
}

// GetGRPCResponse reads the response bytes for the call that most recently
// completed against the calling task.
func (c *Context) GetGRPCResponse(size int) ([]byte, error) {
	return c.resolver.GetGRPCResponse(c.ctx, size)
}

// SendHTTPReply short-circuits the request with a synthetic reply.
func (c *Context) SendHTTPReply(status int, headers attr.Headers, body []byte) error {
	return c.resolver.SendHTTPReply(c.ctx, status, headers, body)
}

// GetHTTPResponseBody returns attr.Pending when the host has not yet
// buffered data at the requested offset, translating host.ErrNotAvailable.
func (c *Context) GetHTTPResponseBody(start, size int) (attr.State[[]byte], error) {
	raw, err := c.resolver.GetHTTPResponseBody(c.ctx, start, size)
	if err != nil {
		if errors.Is(err, host.ErrNotAvailable) {
			return attr.Pending[[]byte](), nil
		}
		return attr.State[[]byte]{}, err
	}
	if raw == nil {
		return attr.Pending[[]byte](), nil
	}
	return attr.Available(raw), nil
}

// ResolveAttribute implements expr.Resolver. A host-confirmed absence
// decodes as CEL null (spec.md §3's "Absent is Available(None)"), not as
// Pending, so a predicate referencing a legitimately-unset attribute (e.g.
// an auth.* key ext_authz never populated) evaluates against null instead
// of requeuing forever.
func (c *Context) ResolveAttribute(path string) (expr.Value, bool, error) {
	p := attr.ParsePath(path)
	s, err := c.fetchBytes(p)
	if err != nil {
		return expr.Value{}, false, err
	}
	if s.IsPending() {
		return expr.Value{}, false, nil
	}
	raw, _ := s.Value()
	if raw == nil {
		return expr.Null(), true, nil
	}
	v, err := expr.DecodeAttribute(path, raw)
	if err != nil {
		return expr.Value{}, false, err
	}
	return v, true, nil
}

// ResolveBodyJSON implements expr.Resolver.
func (c *Context) ResolveBodyJSON(domain expr.BodyDomain, pointer string) (expr.Value, bool, error) {
	return c.bodies.resolve(c, domain, pointer)
}
