package router

import "testing"

func TestMatchLongestPrefixWins(t *testing.T) {
	table := NewTable[string]()
	for _, p := range []string{"/api", "/api/users", "/api/users/admin"} {
		if err := table.Add(p, p); err != nil {
			t.Fatalf("Add(%q): %v", p, err)
		}
	}

	tests := []struct {
		path       string
		want       string
		wantSuffix string
	}{
		{"/api/users/admin/7", "/api/users/admin", "/7"},
		{"/api/users/42", "/api/users", "/42"},
		{"/api/orders/1", "/api", "/orders/1"},
		{"/api/users", "/api/users", "/"},
	}

	for _, tt := range tests {
		got, suffix, ok := table.Match(tt.path)
		if !ok {
			t.Errorf("Match(%q) found no route", tt.path)
			continue
		}
		if got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.path, got, tt.want)
		}
		if suffix != tt.wantSuffix {
			t.Errorf("Match(%q) suffix = %q, want %q", tt.path, suffix, tt.wantSuffix)
		}
	}
}

func TestMatchMissReturnsFalse(t *testing.T) {
	table := NewTable[string]()
	if err := table.Add("/api/users", "users"); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := table.Match("/metrics"); ok {
		t.Error("unmatched path should not resolve")
	}
	if _, _, ok := table.Match("/ap"); ok {
		t.Error("partial prefix should not resolve")
	}
}

func TestMatchSiblingPrefixesDoNotCollide(t *testing.T) {
	table := NewTable[string]()
	table.Add("/api/kg", "kg")
	table.Add("/api/knowledge", "knowledge")

	if got, _, _ := table.Match("/api/knowledge/graphs"); got != "knowledge" {
		t.Errorf("Match = %q, want knowledge", got)
	}
	if got, _, _ := table.Match("/api/kg/1"); got != "kg" {
		t.Errorf("Match = %q, want kg", got)
	}
}

func TestAddRejectsBadPrefixes(t *testing.T) {
	table := NewTable[string]()
	if err := table.Add("api", "x"); err == nil {
		t.Error("prefix without leading slash should be rejected")
	}
	if err := table.Add("", "x"); err == nil {
		t.Error("empty prefix should be rejected")
	}

	if err := table.Add("/api", "x"); err != nil {
		t.Fatal(err)
	}
	if err := table.Add("/api", "y"); err == nil {
		t.Error("duplicate prefix should be rejected")
	}
}
