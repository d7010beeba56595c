// Package host defines the external collaborator interface the engine
// requires from whatever binds it to a reverse proxy: byte-valued
// attribute lookup, header-map access, gRPC dispatch, and synthetic HTTP
// replies. The core never talks to a transport directly; it only ever
// talks through a Resolver.
package host

import (
	"context"
	"errors"
	"time"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// MapKind identifies which header map a GetAttributeMap/SetAttributeMap
// call addresses.
type MapKind int

const (
	RequestHeaders MapKind = iota
	ResponseHeaders
)

// ErrNotAvailable is returned by Resolver methods when the host cannot yet
// serve the requested value in the current request phase (for example,
// response attributes during the request-headers phase). It is the sole
// signal the core translates into attr.Pending; every other error is a
// hard failure.
var ErrNotAvailable = errors.New("host: attribute not available in this phase")

// Resolver is the capability surface the pipeline engine requires from its
// host. Implementations bind the engine to a concrete transport (an
// Envoy-style proxy ABI, or the net/http adapter in internal/httpfilter).
type Resolver interface {
	// GetAttribute returns nil, nil if the host knows the attribute is
	// absent; ErrNotAvailable if the host cannot serve it in the current
	// phase; any other error for I/O failures.
	GetAttribute(ctx context.Context, path attr.Path) ([]byte, error)

	// GetAttributeMap returns the named header map's pairs in order.
	GetAttributeMap(ctx context.Context, kind MapKind) ([]attr.HeaderPair, error)

	// SetAttribute writes raw bytes to a single attribute path.
	SetAttribute(ctx context.Context, path attr.Path, value []byte) error

	// SetAttributeMap replaces a header map wholesale.
	SetAttributeMap(ctx context.Context, kind MapKind, headers attr.Headers) error

	// DispatchGRPCCall issues a non-blocking outbound gRPC call. The
	// returned token id correlates with a later call to the pipeline's
	// digest, which the host drives once the response arrives.
	DispatchGRPCCall(ctx context.Context, upstream, service, method string, headers attr.Headers, message []byte, timeout time.Duration) (tokenID uint32, err error)

	// GetGRPCResponse returns the raw response bytes for the call that
	// most recently completed against the calling PendingTask.
	GetGRPCResponse(ctx context.Context, size int) ([]byte, error)

	// SendHTTPReply short-circuits the request with a synthetic reply.
	SendHTTPReply(ctx context.Context, status int, headers attr.Headers, body []byte) error

	// GetHTTPResponseBody returns a chunk of the buffered response body,
	// or nil, nil if no more data has arrived yet.
	GetHTTPResponseBody(ctx context.Context, start, size int) ([]byte, error)
}
