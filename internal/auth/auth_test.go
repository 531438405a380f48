package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
		{"token with surrounding space", "Bearer  abc123 ", "abc123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/status", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractBearerToken: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticateAdminKey(t *testing.T) {
	t.Parallel()

	p, ok := Authenticate("admin-key", "admin-key", nil)
	if !ok {
		t.Fatal("admin key should authenticate")
	}
	if !HasAnyScope(p, "control:rw") || !HasAnyScope(p, "status:ro") {
		t.Fatal("admin principal should pass any scope check")
	}
}

func TestAuthenticateScopedTokens(t *testing.T) {
	t.Parallel()

	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{"status:ro"}},
		{Token: "operator", Scopes: []string{"control:rw"}},
	}

	p, ok := Authenticate("reader", "admin-key", tokens)
	if !ok {
		t.Fatal("reader should authenticate")
	}
	if !HasAnyScope(p, "status:ro") {
		t.Fatal("reader should have status:ro")
	}
	if HasAnyScope(p, "control:rw") {
		t.Fatal("reader must not have control:rw")
	}

	// control:rw implies the read-only scopes.
	p, ok = Authenticate("operator", "admin-key", tokens)
	if !ok {
		t.Fatal("operator should authenticate")
	}
	for _, scope := range []string{"control:rw", "status:ro", "events:ro"} {
		if !HasAnyScope(p, scope) {
			t.Fatalf("operator should have %s", scope)
		}
	}

	if _, ok := Authenticate("unknown", "admin-key", tokens); ok {
		t.Fatal("unknown token must not authenticate")
	}
	if _, ok := Authenticate("", "", tokens); ok {
		t.Fatal("empty token must not authenticate")
	}
}

func TestHasAnyScopeEmptyRequirement(t *testing.T) {
	t.Parallel()

	if !HasAnyScope(Principal{}) {
		t.Fatal("no required scopes should always pass")
	}
}
