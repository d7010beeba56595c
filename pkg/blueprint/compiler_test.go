package blueprint

import (
	"testing"

	"github.com/kuadrant/wasm-shim-go/pkg/config"
)

func baseDoc() *config.Document {
	return &config.Document{
		Services: map[string]config.Service{
			"authconfig-A": {Type: config.ServiceAuth, Endpoint: "auth-cluster"},
			"RLS-domain":   {Type: config.ServiceRateLimit, Endpoint: "rls-cluster"},
		},
		ActionSets: []config.ActionSetDoc{
			{
				Name: "cars-toystore",
				RouteRuleConditions: config.RouteRuleConditions{
					Hostnames:  []string{"cars.toystore.com"},
					Predicates: []string{"request.method == 'POST'"},
				},
				Actions: []config.ActionDoc{
					{Service: "authconfig-A", Scope: "authconfig-A"},
					{
						Service: "RLS-domain", Scope: "RLS-domain",
						ConditionalData: []config.ConditionalDataDoc{
							{Data: []config.DataItem{{Static: &config.StaticData{Key: "admin", Value: "1"}}}},
						},
					},
				},
			},
		},
	}
}

func TestCompileSucceeds(t *testing.T) {
	res, err := Compile(baseDoc())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	candidates := res.Index.Lookup("cars.toystore.com")
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate blueprint, got %d", len(candidates))
	}
	bp := candidates[0]
	if len(bp.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(bp.Actions))
	}
	if bp.Actions[0].Service.Type != config.ServiceAuth {
		t.Fatalf("expected first action bound to auth service")
	}
}

func TestCompileRejectsUnknownService(t *testing.T) {
	doc := baseDoc()
	doc.ActionSets[0].Actions[0].Service = "does-not-exist"
	if _, err := Compile(doc); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestCompileRejectsBadPredicate(t *testing.T) {
	doc := baseDoc()
	doc.ActionSets[0].RouteRuleConditions.Predicates = []string{"request.method =="}
	if _, err := Compile(doc); err == nil {
		t.Fatal("expected error for malformed predicate")
	}
}

func TestCompileRejectsNoHostnames(t *testing.T) {
	doc := baseDoc()
	doc.ActionSets[0].RouteRuleConditions.Hostnames = nil
	if _, err := Compile(doc); err == nil {
		t.Fatal("expected error for missing hostnames")
	}
}

func TestCompileRejectsDataAndConditionalDataTogether(t *testing.T) {
	doc := baseDoc()
	doc.ActionSets[0].Actions[1].Data = []config.ConditionalDataDoc{
		{Data: []config.DataItem{{Static: &config.StaticData{Key: "x", Value: "y"}}}},
	}
	if _, err := Compile(doc); err == nil {
		t.Fatal("expected error when both data and conditionalData are set")
	}
}

func TestCompileRejectsDataItemWithBothVariants(t *testing.T) {
	doc := baseDoc()
	doc.ActionSets[0].Actions[1].ConditionalData[0].Data[0].Expression = &config.ExpressionData{Key: "admin", Value: "'1'"}
	if _, err := Compile(doc); err == nil {
		t.Fatal("expected error when data item sets both static and expression")
	}
}
