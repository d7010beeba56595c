package expr

import (
	"fmt"
	"sort"
	"strings"
)

// namespaceRoots are the top-level identifiers the environment declares as
// dynamically typed variables (see baseEnvOptions). A dotted chain is only ever
// treated as an attribute reference when its first segment is one of
// these; this keeps the lexical scanner from misreading comprehension
// variables, macro arguments, or bare function calls as attributes.
var namespaceRoots = map[string]bool{
	"request":      true,
	"response":     true,
	"source":       true,
	"destination":  true,
	"connection":   true,
	"ratelimit":    true,
	"auth":         true,
	"metadata":     true,
	"filter_state": true,
	"context":      true,
}

// BodyDomain identifies which buffered body a JSON-pointer reference reads.
type BodyDomain int

const (
	BodyRequest BodyDomain = iota
	BodyResponse
)

// BodyJSONRef is one requestBodyJSON/responseBodyJSON call site found by the
// scanner, rewritten into a synthetic variable reference in Prefetch.Source.
type BodyJSONRef struct {
	Var     string
	Domain  BodyDomain
	Pointer string
}

// Prefetch is the result of lexically scanning a CEL source string: the set
// of attribute paths it depends on, the requestBodyJSON/responseBodyJSON
// call sites it makes (rewritten to plain variable references), and the
// rewritten source to actually compile.
type Prefetch struct {
	Paths    []string
	BodyRefs []BodyJSONRef
	Source   string
}

// ScanPrefetch performs a best-effort lexical scan of a CEL expression,
// rather than walking cel-go's AST, so that the expression layer does not
// depend on cel-go internals beyond its public Env/Program surface. It is
// deliberately conservative: a dotted chain is only recorded as an
// attribute dependency when it begins with a declared namespace root.
func ScanPrefetch(source string) (Prefetch, error) {
	var out strings.Builder
	paths := map[string]bool{}
	var bodyRefs []BodyJSONRef

	r := []rune(source)
	n := len(r)
	i := 0

	isIdentStart := func(c rune) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
	isIdentPart := func(c rune) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }

	for i < n {
		c := r[i]

		if c == '\'' || c == '"' {
			start := i
			quote := c
			i++
			for i < n {
				if r[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				if r[i] == quote {
					i++
					break
				}
				i++
			}
			out.WriteString(string(r[start:i]))
			continue
		}

		if isIdentStart(c) {
			start := i
			i++
			for i < n && isIdentPart(r[i]) {
				i++
			}
			segments := []string{string(r[start:i])}
			chainEnd := i

			for {
				j := chainEnd
				for j < n && r[j] == ' ' {
					j++
				}
				if j < n && r[j] == '.' {
					j++
					for j < n && r[j] == ' ' {
						j++
					}
					segStart := j
					if j < n && isIdentStart(r[j]) {
						j++
						for j < n && isIdentPart(r[j]) {
							j++
						}
						segments = append(segments, string(r[segStart:j]))
						chainEnd = j
						continue
					}
				}
				break
			}

			j := chainEnd
			for j < n && r[j] == ' ' {
				j++
			}
			next := rune(0)
			if j < n {
				next = r[j]
			}

			full := strings.Join(segments, ".")

			if next == '(' && len(segments) == 1 && (segments[0] == "requestBodyJSON" || segments[0] == "responseBodyJSON") {
				argStart := j + 1
				k := argStart
				for k < n && r[k] == ' ' {
					k++
				}
				if k < n && (r[k] == '\'' || r[k] == '"') {
					quote := r[k]
					litStart := k
					k++
					for k < n && r[k] != quote {
						if r[k] == '\\' {
							k++
						}
						k++
					}
					k++ // closing quote
					m := k
					for m < n && r[m] == ' ' {
						m++
					}
					if m < n && r[m] == ')' {
						pointer := unquoteCELString(string(r[litStart:k]))
						domain := BodyRequest
						if segments[0] == "responseBodyJSON" {
							domain = BodyResponse
						}
						varName := fmt.Sprintf("__bodyjson%d", len(bodyRefs))
						bodyRefs = append(bodyRefs, BodyJSONRef{Var: varName, Domain: domain, Pointer: pointer})
						out.WriteString(varName)
						i = m + 1
						continue
					}
				}
			}

			if next == '(' && len(segments) > 1 {
				attrPath := strings.Join(segments[:len(segments)-1], ".")
				if namespaceRoots[segments[0]] {
					paths[attrPath] = true
				}
			} else if namespaceRoots[segments[0]] {
				paths[full] = true
			}

			out.WriteString(string(r[start:chainEnd]))
			i = chainEnd
			continue
		}

		out.WriteRune(c)
		i++
	}

	list := make([]string, 0, len(paths))
	for p := range paths {
		list = append(list, p)
	}
	sort.Strings(list)

	return Prefetch{Paths: list, BodyRefs: bodyRefs, Source: out.String()}, nil
}

func unquoteCELString(lit string) string {
	if len(lit) < 2 {
		return lit
	}
	inner := lit[1 : len(lit)-1]
	inner = strings.ReplaceAll(inner, `\'`, `'`)
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, `\\`, `\`)
	return inner
}
