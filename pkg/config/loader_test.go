package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesActionSets(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "policy.yaml")
	doc := `
services:
  authconfig-A:
    type: auth
    endpoint: auth-cluster
    failureMode: deny
    timeout: 500ms
  RLS-domain:
    type: ratelimit
    endpoint: rls-cluster
actionSets:
  - name: cars-toystore
    routeRuleConditions:
      hostnames: ["cars.toystore.com"]
      predicates: ["request.method == 'POST'"]
    actions:
      - service: authconfig-A
        scope: authconfig-A
      - service: RLS-domain
        scope: RLS-domain
        conditionalData:
          - data:
              - static:
                  key: admin
                  value: "1"
requestData:
  ratelimit.hits_addend: "1"
`
	if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.ActionSets) != 1 {
		t.Fatalf("expected 1 action set, got %d", len(got.ActionSets))
	}
	as := got.ActionSets[0]
	if as.Name != "cars-toystore" {
		t.Fatalf("unexpected name %q", as.Name)
	}
	if len(as.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(as.Actions))
	}
	svc, ok := got.Services["authconfig-A"]
	if !ok {
		t.Fatalf("expected authconfig-A service")
	}
	if svc.EffectiveFailureMode() != FailureModeDeny {
		t.Fatalf("expected deny failure mode, got %q", svc.EffectiveFailureMode())
	}
	if svc.Timeout.AsTime().String() != "500ms" {
		t.Fatalf("unexpected timeout %v", svc.Timeout)
	}
	rls := got.Services["RLS-domain"]
	if rls.Timeout.AsTime() != DefaultTimeout {
		t.Fatalf("expected default timeout, got %v", rls.Timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
