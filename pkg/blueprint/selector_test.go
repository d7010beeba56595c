package blueprint

import "testing"

func TestLookupLiteralHost(t *testing.T) {
	idx := newIndex()
	bp := &Blueprint{Name: "literal"}
	idx.register("example.com", bp)

	if got := idx.Lookup("example.com"); len(got) != 1 || got[0] != bp {
		t.Fatalf("expected literal hit, got %v", got)
	}
	if got := idx.Lookup("sub.example.com"); got != nil {
		t.Fatalf("expected literal miss for subdomain, got %v", got)
	}
}

func TestLookupWildcardHost(t *testing.T) {
	idx := newIndex()
	bp := &Blueprint{Name: "wildcard"}
	idx.register("*.example.com", bp)

	if got := idx.Lookup("sub.example.com"); len(got) != 1 || got[0] != bp {
		t.Fatalf("expected wildcard hit, got %v", got)
	}
	if got := idx.Lookup("example.com"); got != nil {
		t.Fatalf("expected wildcard miss for bare apex, got %v", got)
	}
}

func TestLookupPrefersMostSpecificWildcard(t *testing.T) {
	idx := newIndex()
	broad := &Blueprint{Name: "broad"}
	narrow := &Blueprint{Name: "narrow"}
	idx.register("*.com", broad)
	idx.register("*.example.com", narrow)

	got := idx.Lookup("x.example.com")
	if len(got) != 1 || got[0] != narrow {
		t.Fatalf("expected narrow wildcard to win, got %v", got)
	}
}

func TestLookupStripsPort(t *testing.T) {
	idx := newIndex()
	bp := &Blueprint{Name: "literal"}
	idx.register("example.com", bp)

	if got := idx.Lookup("example.com:8080"); len(got) != 1 || got[0] != bp {
		t.Fatalf("expected port-stripped hit, got %v", got)
	}
}
