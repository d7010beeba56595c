// Package config defines the policy document shape ingested once per
// process (see spec §6): services, action sets, and request-data
// expressions. These are plain JSON/YAML-tagged Go structs; the shape here
// is the unvalidated wire form the Blueprint Compiler consumes, not the
// compiled, immutable Blueprint itself.
package config

// ServiceType identifies which gRPC protocol a configured service speaks.
type ServiceType string

const (
	ServiceAuth             ServiceType = "auth"
	ServiceRateLimit        ServiceType = "ratelimit"
	ServiceRateLimitCheck   ServiceType = "ratelimit-check"
	ServiceRateLimitReport  ServiceType = "ratelimit-report"
)

// FailureMode governs how a task recovers when its service call fails or
// errors.
type FailureMode string

const (
	FailureModeAllow FailureMode = "allow"
	FailureModeDeny  FailureMode = "deny"
)

// Service is one named gRPC backend a blueprint's actions can reference.
type Service struct {
	Type        ServiceType `json:"type" yaml:"type"`
	Endpoint    string      `json:"endpoint" yaml:"endpoint"`
	FailureMode FailureMode `json:"failureMode" yaml:"failureMode"`
	Timeout     Duration    `json:"timeout" yaml:"timeout"`
}

// EffectiveFailureMode defaults an unset FailureMode to deny, per §6.
func (s Service) EffectiveFailureMode() FailureMode {
	if s.FailureMode == "" {
		return FailureModeDeny
	}
	return s.FailureMode
}

// RouteRuleConditions selects which requests an action set's blueprint
// applies to: a set of candidate hostnames, narrowed further by predicates.
type RouteRuleConditions struct {
	Hostnames  []string `json:"hostnames" yaml:"hostnames"`
	Predicates []string `json:"predicates" yaml:"predicates"`
}

// DataItem is one descriptor entry source: either a static key/value pair,
// or a key paired with a CEL expression to evaluate at request time.
// Exactly one of Static or Expression must be set; the compiler rejects
// both or neither.
type DataItem struct {
	Static     *StaticData     `json:"static,omitempty" yaml:"static,omitempty"`
	Expression *ExpressionData `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// StaticData is a literal key/value descriptor entry.
type StaticData struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ExpressionData is a key paired with a CEL source string evaluated once
// per request.
type ExpressionData struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ConditionalDataDoc is the unvalidated wire form of a ConditionalData
// block: predicates gating a batch of data items.
type ConditionalDataDoc struct {
	Predicates []string   `json:"predicates" yaml:"predicates"`
	Data       []DataItem `json:"data" yaml:"data"`
}

// ActionDoc is the unvalidated wire form of one action within an action
// set: a reference to a configured service, a scope string, action-level
// predicates, and its conditional data blocks.
//
// Historical configuration documents spell this field "data" instead of
// "conditionalData"; the compiler accepts exactly one spelling and
// rejects documents that set both (§4.9 Open Questions).
type ActionDoc struct {
	Service         string               `json:"service" yaml:"service"`
	Scope           string               `json:"scope" yaml:"scope"`
	Predicates      []string             `json:"predicates" yaml:"predicates"`
	ConditionalData []ConditionalDataDoc `json:"conditionalData,omitempty" yaml:"conditionalData,omitempty"`
	Data            []ConditionalDataDoc `json:"data,omitempty" yaml:"data,omitempty"`
}

// ActionSetDoc is the unvalidated wire form of one named action set: route
// conditions plus an ordered list of actions.
type ActionSetDoc struct {
	Name                string              `json:"name" yaml:"name"`
	RouteRuleConditions RouteRuleConditions `json:"routeRuleConditions" yaml:"routeRuleConditions"`
	Actions             []ActionDoc         `json:"actions" yaml:"actions"`
}

// ObservabilityDoc configures the process-wide default log level.
type ObservabilityDoc struct {
	DefaultLevel string `json:"defaultLevel,omitempty" yaml:"defaultLevel,omitempty"`
}

// Document is the full policy document: every key recognized at §6.
type Document struct {
	Services      map[string]Service `json:"services" yaml:"services"`
	ActionSets    []ActionSetDoc     `json:"actionSets" yaml:"actionSets"`
	RequestData   map[string]string  `json:"requestData,omitempty" yaml:"requestData,omitempty"`
	Observability ObservabilityDoc   `json:"observability,omitempty" yaml:"observability,omitempty"`
}
