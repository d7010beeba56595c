package tracing

import "github.com/kuadrant/wasm-shim-go/pkg/attr"

// HeadersCarrier adapts attr.Headers to propagation.TextMapCarrier so the
// W3C trace-context/baggage propagator can inject directly into an
// outbound gRPC call's header list.
type HeadersCarrier struct {
	Headers *attr.Headers
}

func (c HeadersCarrier) Get(key string) string {
	v, _ := c.Headers.Get(key)
	return v
}

func (c HeadersCarrier) Set(key, value string) {
	c.Headers.Set(key, value)
}

func (c HeadersCarrier) Keys() []string {
	entries := c.Headers.Entries()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Name
	}
	return keys
}
