package expr

import (
	"fmt"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// Predicate wraps a compiled Expression whose result is required to be a
// CEL boolean.
type Predicate struct {
	expr *Expression
}

// CompilePredicate compiles source and wraps it as a boolean-checked
// Predicate.
func CompilePredicate(source string) (*Predicate, error) {
	e, err := Compile(source)
	if err != nil {
		return nil, err
	}
	return &Predicate{expr: e}, nil
}

// Source returns the predicate's original CEL text.
func (p *Predicate) Source() string { return p.expr.Source() }

// Test evaluates the predicate against res.
func (p *Predicate) Test(res Resolver) (attr.State[bool], error) {
	v, err := p.expr.Eval(res)
	if err != nil {
		return attr.State[bool]{}, err
	}
	if v.IsPending() {
		return attr.Pending[bool](), nil
	}
	b, ok := v.MustValue().AsBool()
	if !ok {
		return attr.State[bool]{}, fmt.Errorf("expr: predicate %q did not evaluate to a bool", p.Source())
	}
	return attr.Available(b), nil
}

// PredicateVec is an ordered list of predicates all of which must hold,
// combined with three-state short-circuiting semantics: an empty vector is
// vacuously true; any predicate resolving to Available(false) makes the
// whole vector Available(false) immediately, even if an earlier predicate
// in evaluation order was Pending; otherwise, if any predicate is Pending,
// the vector is Pending; only when every predicate is Available(true) is
// the vector Available(true).
type PredicateVec []*Predicate

// Apply evaluates every predicate in order against res.
func (pv PredicateVec) Apply(res Resolver) (attr.State[bool], error) {
	if len(pv) == 0 {
		return attr.Available(true), nil
	}

	sawPending := false
	for _, p := range pv {
		result, err := p.Test(res)
		if err != nil {
			return attr.State[bool]{}, err
		}
		if result.IsPending() {
			sawPending = true
			continue
		}
		if !result.MustValue() {
			return attr.Available(false), nil
		}
	}

	if sawPending {
		return attr.Pending[bool](), nil
	}
	return attr.Available(true), nil
}
