package httpfilter

import (
	"context"
	"fmt"
	"sync"
	"time"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	rlsv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"google.golang.org/protobuf/proto"

	"github.com/kuadrant/wasm-shim-go/pkg/observability/metrics"
	authclient "github.com/kuadrant/wasm-shim-go/pkg/services/auth"
	ratelimitclient "github.com/kuadrant/wasm-shim-go/pkg/services/ratelimit"
)

// dispatcher owns one lazily-dialed gRPC client per configured endpoint
// and translates the engine's upstream/service/method/message dispatch
// ABI into a real unary RPC, blocking the caller until it completes. The
// pipeline's DispatchGRPCCall/Digest split tolerates this: once the real
// call returns, the resolver records its result under a new token and the
// driver loop immediately digests it, so the net/http adapter never needs Envoy's
// async dispatch semantics.
type dispatcher struct {
	mu          sync.Mutex
	authClients map[string]*authclient.Client
	rlClients   map[string]*ratelimitclient.Client
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		authClients: map[string]*authclient.Client{},
		rlClients:   map[string]*ratelimitclient.Client{},
	}
}

// dispatch performs the RPC named by service/method against upstream and
// returns the gRPC-style status (0 = OK) and marshaled response payload
// the pipeline's task layer expects via Digest/GetGRPCResponse. A non-nil
// error means the call could not even be attempted (unknown service,
// malformed request, dial failure); an RPC that reached the peer but
// failed is instead reported as a non-zero status with no payload, the
// same distinction DispatchGRPCCall/Digest draw in the host ABI.
func (d *dispatcher) dispatch(ctx context.Context, upstream, service, method string, message []byte, timeout time.Duration) (status int, payload []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.GRPCDispatchDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}()

	switch service {
	case "envoy.service.auth.v3.Authorization":
		return d.dispatchAuth(ctx, upstream, method, message, timeout)
	case "envoy.service.ratelimit.v3.RateLimitService":
		return d.dispatchRateLimit(ctx, upstream, method, message, timeout)
	default:
		return 0, nil, fmt.Errorf("httpfilter: unknown gRPC service %q", service)
	}
}

func (d *dispatcher) dispatchAuth(ctx context.Context, upstream, method string, message []byte, timeout time.Duration) (int, []byte, error) {
	if method != "Check" {
		return 0, nil, fmt.Errorf("httpfilter: unsupported method %q for auth service", method)
	}
	var req authv3.CheckRequest
	if err := proto.Unmarshal(message, &req); err != nil {
		return 0, nil, fmt.Errorf("httpfilter: decode CheckRequest: %w", err)
	}
	client, err := d.authClient(upstream)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Check(ctx, &req, timeout)
	if err != nil {
		return 1, nil, nil
	}
	raw, err := proto.Marshal(resp)
	if err != nil {
		return 1, nil, nil
	}
	return 0, raw, nil
}

func (d *dispatcher) dispatchRateLimit(ctx context.Context, upstream, method string, message []byte, timeout time.Duration) (int, []byte, error) {
	if method != "ShouldRateLimit" {
		return 0, nil, fmt.Errorf("httpfilter: unsupported method %q for ratelimit service", method)
	}
	var req rlsv3.RateLimitRequest
	if err := proto.Unmarshal(message, &req); err != nil {
		return 0, nil, fmt.Errorf("httpfilter: decode RateLimitRequest: %w", err)
	}
	client, err := d.rlClient(upstream)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.ShouldRateLimit(ctx, &req, timeout)
	if err != nil {
		return 1, nil, nil
	}
	raw, err := proto.Marshal(resp)
	if err != nil {
		return 1, nil, nil
	}
	return 0, raw, nil
}

func (d *dispatcher) authClient(endpoint string) (*authclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.authClients[endpoint]; ok {
		return c, nil
	}
	c, err := authclient.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	d.authClients[endpoint] = c
	return c, nil
}

func (d *dispatcher) rlClient(endpoint string) (*ratelimitclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.rlClients[endpoint]; ok {
		return c, nil
	}
	c, err := ratelimitclient.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	d.rlClients[endpoint] = c
	return c, nil
}

// Close releases every pooled client connection. Called once at process
// shutdown; per-request resolvers never own a client's lifetime.
func (d *dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.authClients {
		_ = c.Close()
	}
	for _, c := range d.rlClients {
		_ = c.Close()
	}
}
