// Package cache implements the per-request attribute memoization layer:
// a keyed store from attr.Path to a typed cached value, distinguishing
// attributes that have never been fetched from ones already known to be
// absent. Pending reads are not stored.
package cache

import (
	"fmt"
	"sync"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// Value is the internal cache entry variant. An entry is insertion-typed:
// once stored as Bytes it stays Bytes (re-reads with a different logical
// type re-parse the same bytes), and Headers entries may only be queried
// as headers.
type Value struct {
	kind    kind
	bytes   []byte
	hasByte bool
	headers attr.Headers
}

type kind int

const (
	kindBytes kind = iota
	kindHeaders
)

// BytesValue wraps an optional raw byte slice as a Bytes cache entry.
func BytesValue(b []byte, present bool) Value {
	return Value{kind: kindBytes, bytes: b, hasByte: present}
}

// HeadersValue wraps a Headers collection as a Headers cache entry.
func HeadersValue(h attr.Headers) Value {
	return Value{kind: kindHeaders, headers: h}
}

// TypeError is returned when a read requests a view (bytes vs headers)
// incompatible with how the entry was stored.
type TypeError struct {
	Path string
	Want string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cache: path %q is not stored as %s", e.Path, e.Want)
}

// Loader fetches a fresh Value for a path not yet in the cache.
type Loader func() (Value, error)

// Cache is a per-request store from Path to Value, owned by one request's
// Context. A mutex guards every access to its entries.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value Value
	err   error
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Contains reports whether path has already been recorded, successfully or
// not.
func (c *Cache) Contains(path attr.Path) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[path.Key()]
	return ok
}

// Insert explicitly records a value for path, bypassing the loader.
func (c *Cache) Insert(path attr.Path, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path.Key()] = cacheEntry{value: v}
}

// Populate warms the cache for path via loader if not already present,
// discarding the parsed view. Used for best-effort batch warm-up.
func (c *Cache) Populate(path attr.Path, loader Loader) error {
	_, err := c.getOrInsert(path, loader)
	return err
}

// GetOrInsertBytes returns the Bytes entry for path, invoking loader on a
// cache miss. The returned bool reports presence (nil vs set); the entry
// must have been stored (or now be stored) as Bytes.
func (c *Cache) GetOrInsertBytes(path attr.Path, loader Loader) ([]byte, bool, error) {
	v, err := c.getOrInsert(path, loader)
	if err != nil {
		return nil, false, err
	}
	if v.kind != kindBytes {
		return nil, false, &TypeError{Path: path.String(), Want: "bytes"}
	}
	return v.bytes, v.hasByte, nil
}

// GetOrInsertHeaders returns the Headers entry for path, invoking loader on
// a cache miss.
func (c *Cache) GetOrInsertHeaders(path attr.Path, loader Loader) (attr.Headers, error) {
	v, err := c.getOrInsert(path, loader)
	if err != nil {
		return attr.Headers{}, err
	}
	if v.kind != kindHeaders {
		return attr.Headers{}, &TypeError{Path: path.String(), Want: "headers"}
	}
	return v.headers, nil
}

func (c *Cache) getOrInsert(path attr.Path, loader Loader) (Value, error) {
	key := path.Key()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return e.value, e.err
	}
	c.mu.Unlock()

	v, err := loader()

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent loader for the same path within one synchronous
	// request never happens in practice (pipeline evaluation is
	// single-threaded), but record the first writer's result to stay
	// monotonic if it ever did.
	if e, ok := c.entries[key]; ok {
		return e.value, e.err
	}
	c.entries[key] = cacheEntry{value: v, err: err}
	return v, err
}
