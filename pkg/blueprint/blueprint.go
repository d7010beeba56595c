// Package blueprint compiles a config.Document into immutable, reusable
// Blueprints and indexes them for per-request hostname selection. Nothing
// under this package is mutated after Compile returns; a *Index is shared
// by reference across every in-flight request and swapped atomically on
// reconfiguration (see internal/reload).
package blueprint

import (
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/expr"
)

// Service is the compiled, immutable form of a config.Service: a shared,
// reference-counted handle every Action referencing it points at.
type Service struct {
	Name        string
	Type        config.ServiceType
	Endpoint    string
	FailureMode config.FailureMode
	Timeout     config.Duration
}

// DataItem is one compiled descriptor-entry source: a key paired with an
// expression. A static item (config.StaticData) is lowered here into an
// expression that evaluates to the quoted constant string, so callers
// never need to special-case "was this static or computed" at evaluation
// time.
type DataItem struct {
	Key  string
	Expr *expr.Expression
}

// ConditionalData is a guarded batch of data items: the items are only
// evaluated, and their entries only produced, when Predicates holds true.
type ConditionalData struct {
	Predicates expr.PredicateVec
	Data       []DataItem
}

// Action is one compiled step of a Blueprint: a reference to a shared
// Service, the scope string identifying which policy that service should
// apply, action-level gating predicates, and its conditional data blocks.
type Action struct {
	Service         *Service
	Scope           string
	Predicates      expr.PredicateVec
	ConditionalData []ConditionalData
}

// Blueprint is the compiled, immutable form of one action set: the route
// predicates that must hold for this blueprint to be selected, plus its
// ordered actions.
type Blueprint struct {
	Name             string
	RoutePredicates  expr.PredicateVec
	Actions          []Action
}

// RequestDataEntry is one compiled requestData mapping: a dotted
// "<domain>.<field>" key paired with its expression, evaluated once per
// request by the Request Context.
type RequestDataEntry struct {
	Domain string
	Field  string
	Expr   *expr.Expression
}
