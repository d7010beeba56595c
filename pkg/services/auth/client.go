// Package auth is a thin gRPC client for envoy.service.auth.v3's external
// authorization service, the ext_authz protocol the core's AuthTask
// dispatches Check calls against.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a single gRPC connection to an ext_authz-compatible
// authorization service.
type Client struct {
	conn   *grpc.ClientConn
	client authv3.AuthorizationClient
}

// Dial establishes a gRPC connection to target, retrying transient dial
// failures a bounded number of times before giving up. The connection is
// plaintext; production deployments terminate mTLS at a sidecar, matching
// the rest of the proxy data plane's trust model.
func Dial(target string) (*Client, error) {
	var conn *grpc.ClientConn
	err := retry.Do(
		func() error {
			c, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: dial %q: %w", target, err)
	}
	return &Client{conn: conn, client: authv3.NewAuthorizationClient(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Check invokes the Authorization/Check RPC with the given per-call
// timeout.
func (c *Client) Check(ctx context.Context, req *authv3.CheckRequest, timeout time.Duration) (*authv3.CheckResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.client.Check(cctx, req)
	if err != nil {
		return nil, fmt.Errorf("auth: check: %w", err)
	}
	return resp, nil
}
