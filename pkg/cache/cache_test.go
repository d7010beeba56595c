package cache

import (
	"errors"
	"testing"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

func TestGetOrInsertBytesLoadsOnce(t *testing.T) {
	c := New()
	calls := 0
	loader := func() (Value, error) {
		calls++
		return BytesValue([]byte("GET"), true), nil
	}
	p := attr.ParsePath("request.method")

	b1, present1, err := c.GetOrInsertBytes(p, loader)
	if err != nil || !present1 || string(b1) != "GET" {
		t.Fatalf("unexpected first read: %v %v %v", b1, present1, err)
	}
	b2, present2, err := c.GetOrInsertBytes(p, loader)
	if err != nil || !present2 || string(b2) != "GET" {
		t.Fatalf("unexpected second read: %v %v %v", b2, present2, err)
	}
	if calls != 1 {
		t.Fatalf("expected loader called once, got %d", calls)
	}
}

func TestInsertOverridesFutureLoads(t *testing.T) {
	c := New()
	p := attr.ParsePath("request.method")
	c.Insert(p, BytesValue([]byte("POST"), true))

	loaderCalled := false
	b, present, err := c.GetOrInsertBytes(p, func() (Value, error) {
		loaderCalled = true
		return BytesValue([]byte("GET"), true), nil
	})
	if err != nil || !present || string(b) != "POST" {
		t.Fatalf("unexpected read after insert: %v %v %v", b, present, err)
	}
	if loaderCalled {
		t.Fatalf("loader should not run after explicit Insert")
	}
}

func TestHeadersEntryRejectsBytesView(t *testing.T) {
	c := New()
	p := attr.ParsePath("request.headers")
	c.Insert(p, HeadersValue(attr.NewHeaders(attr.HeaderPair{Name: "X", Value: "Y"})))

	_, _, err := c.GetOrInsertBytes(p, func() (Value, error) {
		return BytesValue(nil, false), nil
	})
	var te *TypeError
	if !errors.As(err, &te) {
		t.Fatalf("expected TypeError, got %v", err)
	}
}

func TestPopulateWarmsWithoutReturning(t *testing.T) {
	c := New()
	p := attr.ParsePath("request.path")
	calls := 0
	err := c.Populate(p, func() (Value, error) {
		calls++
		return BytesValue([]byte("/foo"), true), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Contains(p) {
		t.Fatalf("expected path to be cached after Populate")
	}
	b, _, err := c.GetOrInsertBytes(p, func() (Value, error) {
		calls++
		return BytesValue([]byte("/bar"), true), nil
	})
	if err != nil || string(b) != "/foo" {
		t.Fatalf("expected warmed value reused, got %v %v", b, err)
	}
	if calls != 1 {
		t.Fatalf("expected single load, got %d", calls)
	}
}
