// Package ratelimit is a thin gRPC client for
// envoy.service.ratelimit.v3.RateLimitService, the protocol the core's
// RateLimitTask dispatches ShouldRateLimit calls against.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	rlsv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a single gRPC connection to a rate-limit service (RLS).
type Client struct {
	conn   *grpc.ClientConn
	client rlsv3.RateLimitServiceClient
}

// Dial establishes a gRPC connection to target, retrying transient dial
// failures. Connection establishment is the only place this package
// retries; a digested response with a non-OK status follows the
// configured service's failure mode rather than a silent in-flight retry
// (spec §5/§7).
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
		return nil, fmt.Errorf("ratelimit: dial %q: %w", target, err)
	}
	return &Client{conn: conn, client: rlsv3.NewRateLimitServiceClient(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ShouldRateLimit invokes the RateLimitService/ShouldRateLimit RPC.
func (c *Client) ShouldRateLimit(ctx context.Context, req *rlsv3.RateLimitRequest, timeout time.Duration) (*rlsv3.RateLimitResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.client.ShouldRateLimit(cctx, req)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: should_rate_limit: %w", err)
	}
	return resp, nil
}
