package server

import (
	"net/http/httptest"
	"testing"
)

// TestOriginPolicy verifies origin normalisation and matching, including the
// edge cases the WebSocket upgrade relies on.
func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://Localhost:8080", "not-a-url", " https://chat.example "})

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact match", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "HTTPS://CHAT.EXAMPLE", want: true},
		{name: "path ignored", origin: "https://chat.example/app", want: true},
		{name: "missing origin", origin: "", want: false},
		{name: "malformed origin", origin: "://missing-scheme", want: false},
		{name: "host only", origin: "chat.example", want: false},
		{name: "other port", origin: "http://localhost:9090", want: false},
		{name: "scheme mismatch", origin: "http://chat.example", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/hubs/message", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}

	t.Run("Wildcard", func(t *testing.T) {
		all := newOriginPolicy([]string{"*"})
		req := httptest.NewRequest("GET", "/hubs/message", nil)
		req.Header.Set("Origin", "http://anything.example")
		if !all.checkOrigin(req) {
			t.Error("Expected wildcard to allow any well-formed origin")
		}
		req.Header.Set("Origin", "garbage")
		if all.checkOrigin(req) {
			t.Error("Expected wildcard to still reject malformed origins")
		}
	})

	t.Run("Empty list", func(t *testing.T) {
		none := newOriginPolicy(nil)
		req := httptest.NewRequest("GET", "/hubs/message", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		if none.checkOrigin(req) {
			t.Error("Expected empty allow-list to reject every origin")
		}
	})
}
