package attr

import "strings"

// HeaderPair is a single (name, value) entry in a Headers collection.
type HeaderPair struct {
	Name  string
	Value string
}

// Headers preserves insertion order, allows duplicate names, and supports
// append/set/remove/get by case-insensitive name, matching HTTP header-map
// conventions.
type Headers struct {
	entries []HeaderPair
}

// NewHeaders builds a Headers value from an ordered pair list.
func NewHeaders(pairs ...HeaderPair) Headers {
	h := Headers{entries: make([]HeaderPair, len(pairs))}
	copy(h.entries, pairs)
	return h
}

// Len returns the number of entries, including duplicates.
func (h Headers) Len() int {
	return len(h.entries)
}

// Entries returns the ordered (name, value) pairs. Callers must not mutate
// the returned slice.
func (h Headers) Entries() []HeaderPair {
	return h.entries
}

// Get returns the value of the first entry matching name, case-insensitive.
func (h Headers) Get(name string) (string, bool) {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// GetAll returns the values of every entry matching name, case-insensitive,
// in insertion order.
func (h Headers) GetAll(name string) []string {
	var out []string
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Append adds a new entry, allowing duplicates.
func (h *Headers) Append(name, value string) {
	h.entries = append(h.entries, HeaderPair{Name: name, Value: value})
}

// Extend appends every entry from other, in order.
func (h *Headers) Extend(other Headers) {
	h.entries = append(h.entries, other.entries...)
}

// Set replaces all entries matching name with a single entry carrying
// value, preserving the position of the first match (or appending if name
// was absent).
func (h *Headers) Set(name, value string) {
	for i, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			h.entries[i] = HeaderPair{Name: name, Value: value}
			h.removeFrom(i + 1, name)
			return
		}
	}
	h.entries = append(h.entries, HeaderPair{Name: name, Value: value})
}

func (h *Headers) removeFrom(start int, name string) {
	kept := h.entries[:start]
	for _, e := range h.entries[start:] {
		if !strings.EqualFold(e.Name, name) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Remove deletes every entry matching name, case-insensitive.
func (h *Headers) Remove(name string) {
	kept := h.entries[:0:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Clone returns an independent copy of the Headers value.
func (h Headers) Clone() Headers {
	cp := make([]HeaderPair, len(h.entries))
	copy(cp, h.entries)
	return Headers{entries: cp}
}
