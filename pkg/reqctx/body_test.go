package reqctx

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/kuadrant/wasm-shim-go/pkg/expr"
)

func TestResolveBodyJSONPlainJSONResponse(t *testing.T) {
	fh := newFakeHost()
	fh.hasRespBody = true
	fh.respBody = []byte(`{"usage":{"total_tokens":7}}`)
	c := New(context.Background(), fh, logr.Discard())

	v, available, err := c.ResolveBodyJSON(expr.BodyResponse, "/usage/total_tokens")
	if err != nil {
		t.Fatal(err)
	}
	if !available {
		t.Fatal("expected available")
	}
	f, ok := v.AsFloat()
	if !ok || f != 7 {
		t.Fatalf("expected 7, got %+v", v)
	}
}

func TestResolveBodyJSONFallsBackToEventStream(t *testing.T) {
	fh := newFakeHost()
	fh.hasRespBody = true
	fh.respBody = []byte("data: {\"chunk\":1}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"usage\":{\"total_tokens\":42}}\n\n")
	c := New(context.Background(), fh, logr.Discard())

	v, available, err := c.ResolveBodyJSON(expr.BodyResponse, "/usage/total_tokens")
	if err != nil {
		t.Fatal(err)
	}
	if !available {
		t.Fatal("expected available")
	}
	f, ok := v.AsFloat()
	if !ok || f != 42 {
		t.Fatalf("expected 42, got %+v", v)
	}
}

func TestResolveBodyJSONPendingUntilBuffered(t *testing.T) {
	fh := newFakeHost()
	c := New(context.Background(), fh, logr.Discard())

	_, available, err := c.ResolveBodyJSON(expr.BodyResponse, "/usage/total_tokens")
	if err != nil {
		t.Fatal(err)
	}
	if available {
		t.Fatal("expected pending before the response body is buffered")
	}
}
