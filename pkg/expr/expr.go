// Package expr implements the CEL-backed expression and predicate layer:
// compiling blueprint-authored CEL source into programs that read request
// attributes through a Resolver, honoring the three-state Available/Pending
// attribute model by pre-resolving every attribute an expression touches
// before invoking the CEL runtime.
package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// Resolver is the evaluation-time collaborator an Expression reads
// attributes and buffered-body JSON pointers through. It is satisfied by
// the Request Context; kept as a narrow interface here so pkg/expr never
// imports pkg/reqctx.
type Resolver interface {
	// ResolveAttribute returns the decoded attribute at path and whether it
	// is currently available. available=false with err=nil means Pending.
	ResolveAttribute(path string) (value Value, available bool, err error)

	// ResolveBodyJSON evaluates a JSON pointer against the named buffered
	// body. available=false with err=nil means Pending (body not yet
	// buffered in this phase).
	ResolveBodyJSON(domain BodyDomain, pointer string) (value Value, available bool, err error)
}

// Expression is a compiled CEL expression ready for repeated evaluation
// against different Resolvers.
type Expression struct {
	source   string
	prefetch Prefetch
	env      *cel.Env
	program  cel.Program
}

func baseEnvOptions() []cel.EnvOption {
	opts := []cel.EnvOption{ext.Strings(), globFunction()}
	for root := range namespaceRoots {
		opts = append(opts, cel.Variable(root, cel.DynType))
	}
	return opts
}

// Compile parses and type-checks a CEL source string, scanning it for its
// attribute and buffered-body dependencies.
func Compile(source string) (*Expression, error) {
	pre, err := ScanPrefetch(source)
	if err != nil {
		return nil, err
	}

	opts := baseEnvOptions()
	for _, ref := range pre.BodyRefs {
		opts = append(opts, cel.Variable(ref.Var, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}

	ast, issues := env.Compile(pre.Source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", source, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: build program for %q: %w", source, err)
	}

	return &Expression{source: source, prefetch: pre, env: env, program: prg}, nil
}

// Source returns the original, unrewritten CEL source text.
func (e *Expression) Source() string { return e.source }

// Dependencies returns the sorted attribute paths this expression reads.
func (e *Expression) Dependencies() []string { return e.prefetch.Paths }

// Eval resolves every attribute and body-JSON dependency through res, then
// runs the compiled program. If any dependency is Pending, evaluation
// short-circuits and returns a Pending result without invoking CEL at all.
func (e *Expression) Eval(res Resolver) (attr.State[Value], error) {
	vars := map[string]any{}

	for _, p := range e.prefetch.Paths {
		v, available, err := res.ResolveAttribute(p)
		if err != nil {
			return attr.State[Value]{}, fmt.Errorf("expr: resolve %q: %w", p, err)
		}
		if !available {
			return attr.Pending[Value](), nil
		}
		setNested(vars, p, v.Native())
	}

	for _, ref := range e.prefetch.BodyRefs {
		v, available, err := res.ResolveBodyJSON(ref.Domain, ref.Pointer)
		if err != nil {
			return attr.State[Value]{}, fmt.Errorf("expr: resolve body pointer %q: %w", ref.Pointer, err)
		}
		if !available {
			return attr.Pending[Value](), nil
		}
		vars[ref.Var] = v.Native()
	}

	out, _, err := e.program.Eval(vars)
	if err != nil {
		return attr.State[Value]{}, fmt.Errorf("expr: eval %q: %w", e.source, err)
	}

	v, err := fromRefVal(out)
	if err != nil {
		return attr.State[Value]{}, fmt.Errorf("expr: eval %q: %w", e.source, err)
	}
	return attr.Available(v), nil
}

// setNested writes val at the dotted path inside root, creating
// intermediate map[string]any levels as needed.
func setNested(root map[string]any, dotted string, val any) {
	segs := strings.Split(dotted, ".")
	m := root
	for i, s := range segs {
		if i == len(segs)-1 {
			m[s] = val
			return
		}
		next, ok := m[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[s] = next
		}
		m = next
	}
}

func fromRefVal(v ref.Val) (Value, error) {
	switch vv := v.(type) {
	case types.Bool:
		return Bool(bool(vv)), nil
	case types.String:
		return String(string(vv)), nil
	case types.Int:
		return Int(int64(vv)), nil
	case types.Uint:
		return Uint(uint64(vv)), nil
	case types.Double:
		return Float(float64(vv)), nil
	case types.Bytes:
		return Bytes([]byte(vv)), nil
	case types.Null:
		return Null(), nil
	case *types.Err:
		return Value{}, vv
	}

	if l, ok := v.(traits.Lister); ok {
		sz := l.Size().(types.Int)
		items := make([]Value, 0, int(sz))
		it := l.Iterator()
		for bool(it.HasNext().(types.Bool)) {
			elem, err := fromRefVal(it.Next())
			if err != nil {
				return Value{}, err
			}
			items = append(items, elem)
		}
		return List(items), nil
	}

	if m, ok := v.(traits.Mapper); ok {
		out := map[string]Value{}
		it := m.Iterator()
		for bool(it.HasNext().(types.Bool)) {
			k := it.Next()
			ks, ok := k.Value().(string)
			if !ok {
				return Value{}, fmt.Errorf("expr: non-string map key in result")
			}
			val, err := fromRefVal(m.Get(k))
			if err != nil {
				return Value{}, err
			}
			out[ks] = val
		}
		return Map(out), nil
	}

	return Value{}, fmt.Errorf("expr: unsupported result type %T", v)
}
