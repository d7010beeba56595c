package httpfilter

import (
	"net/http"
	"strings"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// headersFromHTTP flattens a net/http.Header (which groups values by
// canonical name) into the module's ordered, duplicate-preserving Headers
// shape, lower-casing names to match the attribute conventions the rest of
// the engine assumes (request.headers, response.headers JSON encoding).
func headersFromHTTP(h http.Header) attr.Headers {
	var pairs []attr.HeaderPair
	for name, values := range h {
		lower := strings.ToLower(name)
		for _, v := range values {
			pairs = append(pairs, attr.HeaderPair{Name: lower, Value: v})
		}
	}
	return attr.NewHeaders(pairs...)
}

// headersToHTTP expands an ordered Headers value back into a net/http.Header,
// preserving duplicates via Add.
func headersToHTTP(h attr.Headers) http.Header {
	out := make(http.Header, h.Len())
	for _, p := range h.Entries() {
		out.Add(p.Name, p.Value)
	}
	return out
}
