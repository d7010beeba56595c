package reqctx

import (
	"encoding/json"
	"fmt"

	"github.com/go-openapi/jsonpointer"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx/eventstream"
)

// bodyStore lazily buffers and JSON-parses the request and response bodies
// on first reference, caching the parsed document for the rest of the
// request so a blueprint that evaluates requestBodyJSON/responseBodyJSON
// against several pointers only pays one decode.
type bodyStore struct {
	reqDoc   any
	reqErr   error
	reqDone  bool
	respDoc  any
	respErr  error
	respDone bool
}

func newBodyStore() bodyStore {
	return bodyStore{}
}

var bodyPath = attr.NewPath("request", "body")

// resolve implements the JSON-pointer lookup behind expr.Resolver's
// ResolveBodyJSON: Pending until the relevant body is buffered, then a
// pointer miss resolves to CEL null rather than propagating Pending again
// (a missing field is a definite answer, not an unavailable one).
func (b *bodyStore) resolve(c *Context, domain expr.BodyDomain, pointer string) (expr.Value, bool, error) {
	doc, available, err := b.document(c, domain)
	if err != nil {
		return expr.Value{}, false, err
	}
	if !available {
		return expr.Value{}, false, nil
	}

	ptr, err := jsonpointer.New(pointer)
	if err != nil {
		return expr.Value{}, false, fmt.Errorf("reqctx: invalid JSON pointer %q: %w", pointer, err)
	}
	val, _, err := ptr.Get(doc)
	if err != nil {
		return expr.Null(), true, nil
	}
	return expr.FromJSON(val), true, nil
}

func (b *bodyStore) document(c *Context, domain expr.BodyDomain) (any, bool, error) {
	switch domain {
	case expr.BodyRequest:
		if b.reqDone {
			return b.reqDoc, true, b.reqErr
		}
		state, err := c.fetchBytes(bodyPath)
		if err != nil {
			return nil, false, err
		}
		if state.IsPending() {
			return nil, false, nil
		}
		raw, _ := state.Value()
		doc, perr := parseJSONDoc(raw)
		b.reqDoc, b.reqErr, b.reqDone = doc, perr, true
		return doc, true, perr

	case expr.BodyResponse:
		if b.respDone {
			return b.respDoc, true, b.respErr
		}
		// start=0, size=-1 is this module's convention for "every byte of
		// the response body buffered so far"; internal/httpfilter's
		// resolver reads a negative size as "to the end".
		state, err := c.GetHTTPResponseBody(0, -1)
		if err != nil {
			return nil, false, err
		}
		if state.IsPending() {
			return nil, false, nil
		}
		doc, perr := parseResponseDoc(state.MustValue())
		b.respDoc, b.respErr, b.respDone = doc, perr, true
		return doc, true, perr

	default:
		return nil, false, fmt.Errorf("reqctx: unknown body domain %d", domain)
	}
}

func parseJSONDoc(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("reqctx: parse body as JSON: %w", err)
	}
	return v, nil
}

// parseResponseDoc decodes a buffered response body for responseBodyJSON
// pointer lookups. Most responses are plain JSON; a text/event-stream body
// (the shape a streamed LLM-style backend returns) fails a direct decode,
// so it falls back to extracting the last JSON-decodable "data:" frame,
// which is where such backends place cumulative usage accounting.
func parseResponseDoc(raw []byte) (any, error) {
	var v any
	jsonErr := json.Unmarshal(raw, &v)
	if jsonErr == nil {
		return v, nil
	}
	if doc, ok := eventstream.ExtractJSON(raw); ok {
		return doc, nil
	}
	return nil, fmt.Errorf("reqctx: parse response body as JSON: %w", jsonErr)
}
