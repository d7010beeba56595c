// Package attr defines the dotted attribute Path type and the typed
// scalar/binary decoders used to interpret raw attribute bytes returned by
// the host resolver.
package attr

import "strings"

// Path is an ordered sequence of string tokens. It is constructed by
// splitting a dotted name on '.', with '\.' escaping a literal dot so it
// stays part of a single token. Equality and hashing are defined over the
// token sequence, never the original string form.
type Path struct {
	tokens []string
}

// NewPath builds a Path directly from already-split tokens.
func NewPath(tokens ...string) Path {
	cp := make([]string, len(tokens))
	copy(cp, tokens)
	return Path{tokens: cp}
}

// ParsePath splits a dotted attribute name into a Path, honoring '\.' as an
// escape for a literal dot within a token.
func ParsePath(s string) Path {
	var tokens []string
	var cur strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes) && runes[i+1] == '.':
			cur.WriteByte('.')
			i++
		case c == '.':
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	tokens = append(tokens, cur.String())
	return Path{tokens: tokens}
}

// Tokens returns the underlying token slice. Callers must not mutate it.
func (p Path) Tokens() []string {
	return p.tokens
}

// Len reports the number of tokens in the path.
func (p Path) Len() int {
	return len(p.tokens)
}

// Equal reports whether two paths have the same token sequence.
func (p Path) Equal(o Path) bool {
	if len(p.tokens) != len(o.tokens) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i] != o.tokens[i] {
			return false
		}
	}
	return true
}

// Key returns a value suitable for use as a map key, since []string is not
// comparable. It is the canonical string form (see String).
func (p Path) Key() string {
	return p.String()
}

// String renders the canonical dotted form, re-escaping any literal '.'
// within a token as '\.'. Round-tripping ParsePath(p.String()) reproduces p.
func (p Path) String() string {
	escaped := make([]string, len(p.tokens))
	for i, t := range p.tokens {
		escaped[i] = strings.ReplaceAll(t, ".", `\.`)
	}
	return strings.Join(escaped, ".")
}

// WithPrefix returns a new Path with the given tokens prepended.
func (p Path) WithPrefix(tokens ...string) Path {
	out := make([]string, 0, len(tokens)+len(p.tokens))
	out = append(out, tokens...)
	out = append(out, p.tokens...)
	return Path{tokens: out}
}

// HasPrefix reports whether the path's first tokens equal prefix's tokens.
func (p Path) HasPrefix(prefix ...string) bool {
	if len(prefix) > len(p.tokens) {
		return false
	}
	for i, t := range prefix {
		if p.tokens[i] != t {
			return false
		}
	}
	return true
}
