package blueprint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
)

// CompileError wraps a compilation failure with the location (action set
// or service name) it occurred in, satisfying spec §4.6's requirement that
// every rejected predicate/expression be tagged with its location.
type CompileError struct {
	Location string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("blueprint: %s: %v", e.Location, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Result is the output of Compile: an index ready for per-request
// selection, plus the compiled request-data table.
type Result struct {
	Index       *Index
	RequestData []RequestDataEntry
}

// Compile validates doc and produces an immutable Result. Compilation is
// total (spec §3 invariant 6): any predicate or expression that fails to
// parse, any unknown service reference, or any document that sets both
// "data" and "conditionalData" on the same action aborts the whole
// compilation; no blueprint is ever half-built.
func Compile(doc *config.Document) (*Result, error) {
	services := make(map[string]*Service, len(doc.Services))
	for name, svc := range doc.Services {
		services[name] = &Service{
			Name:        name,
			Type:        svc.Type,
			Endpoint:    svc.Endpoint,
			FailureMode: svc.EffectiveFailureMode(),
			Timeout:     svc.Timeout,
		}
	}

	idx := newIndex()

	for _, asDoc := range doc.ActionSets {
		bp, err := compileActionSet(asDoc, services)
		if err != nil {
			return nil, err
		}
		if len(asDoc.RouteRuleConditions.Hostnames) == 0 {
			return nil, &CompileError{Location: asDoc.Name, Err: fmt.Errorf("action set declares no hostnames")}
		}
		for _, host := range asDoc.RouteRuleConditions.Hostnames {
			idx.register(host, bp)
		}
	}

	reqData, err := compileRequestData(doc.RequestData)
	if err != nil {
		return nil, err
	}

	return &Result{Index: idx, RequestData: reqData}, nil
}

func compileActionSet(doc config.ActionSetDoc, services map[string]*Service) (*Blueprint, error) {
	routePredicates, err := compilePredicates(doc.RouteRuleConditions.Predicates)
	if err != nil {
		return nil, &CompileError{Location: doc.Name, Err: err}
	}

	actions := make([]Action, 0, len(doc.Actions))
	for i, ad := range doc.Actions {
		a, err := compileAction(ad, services)
		if err != nil {
			return nil, &CompileError{Location: fmt.Sprintf("%s: action[%d]", doc.Name, i), Err: err}
		}
		actions = append(actions, a)
	}

	return &Blueprint{
		Name:            doc.Name,
		RoutePredicates: routePredicates,
		Actions:         actions,
	}, nil
}

func compileAction(doc config.ActionDoc, services map[string]*Service) (Action, error) {
	svc, ok := services[doc.Service]
	if !ok {
		return Action{}, fmt.Errorf("unknown service %q", doc.Service)
	}

	if len(doc.Data) > 0 && len(doc.ConditionalData) > 0 {
		return Action{}, fmt.Errorf("action sets both \"data\" and \"conditionalData\"; only one is accepted")
	}
	rawConditional := doc.ConditionalData
	if len(doc.Data) > 0 {
		rawConditional = doc.Data
	}

	predicates, err := compilePredicates(doc.Predicates)
	if err != nil {
		return Action{}, fmt.Errorf("action predicates: %w", err)
	}

	conditional := make([]ConditionalData, 0, len(rawConditional))
	for i, cd := range rawConditional {
		guard, err := compilePredicates(cd.Predicates)
		if err != nil {
			return Action{}, fmt.Errorf("conditionalData[%d] predicates: %w", i, err)
		}
		items := make([]DataItem, 0, len(cd.Data))
		for j, di := range cd.Data {
			item, err := compileDataItem(di)
			if err != nil {
				return Action{}, fmt.Errorf("conditionalData[%d].data[%d]: %w", i, j, err)
			}
			items = append(items, item)
		}
		conditional = append(conditional, ConditionalData{Predicates: guard, Data: items})
	}

	return Action{
		Service:         svc,
		Scope:           doc.Scope,
		Predicates:      predicates,
		ConditionalData: conditional,
	}, nil
}

// compileDataItem lowers a static item into an expression returning the
// quoted constant string (spec §4.6), or compiles an expression item
// directly. Exactly one of Static/Expression must be set.
func compileDataItem(doc config.DataItem) (DataItem, error) {
	switch {
	case doc.Static != nil && doc.Expression != nil:
		return DataItem{}, fmt.Errorf("data item sets both static and expression")
	case doc.Static != nil:
		e, err := expr.Compile(strconv.Quote(doc.Static.Value))
		if err != nil {
			return DataItem{}, fmt.Errorf("static data %q: %w", doc.Static.Key, err)
		}
		return DataItem{Key: doc.Static.Key, Expr: e}, nil
	case doc.Expression != nil:
		e, err := expr.Compile(doc.Expression.Value)
		if err != nil {
			return DataItem{}, fmt.Errorf("expression data %q: %w", doc.Expression.Key, err)
		}
		return DataItem{Key: doc.Expression.Key, Expr: e}, nil
	default:
		return DataItem{}, fmt.Errorf("data item sets neither static nor expression")
	}
}

func compilePredicates(sources []string) (expr.PredicateVec, error) {
	out := make(expr.PredicateVec, 0, len(sources))
	for _, src := range sources {
		p, err := expr.CompilePredicate(src)
		if err != nil {
			return nil, fmt.Errorf("predicate %q: %w", src, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// compileRequestData compiles the requestData table, splitting each
// "<domain>.<field>" key on its first dot.
func compileRequestData(raw map[string]string) ([]RequestDataEntry, error) {
	out := make([]RequestDataEntry, 0, len(raw))
	for key, source := range raw {
		domain, field, ok := strings.Cut(key, ".")
		if !ok {
			return nil, &CompileError{Location: "requestData", Err: fmt.Errorf("key %q is not of the form <domain>.<field>", key)}
		}
		e, err := expr.Compile(source)
		if err != nil {
			return nil, &CompileError{Location: fmt.Sprintf("requestData[%s]", key), Err: err}
		}
		out = append(out, RequestDataEntry{Domain: domain, Field: field, Expr: e})
	}
	return out, nil
}
