package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/api/v1/leads/abc":             "/api/v1/leads/:id",
		"/api/v1/clients/abc":           "/api/v1/clients/:id",
		"/api/v1/clients/abc/notes":     "/api/v1/clients/:id/notes",
		"/api/v1/invoices/abc?x=1":      "/api/v1/invoices/:id",
		"/api/v1/auth/login":            "/api/v1/auth/login",
		"/api/v1/leads":                 "/api/v1/leads",
		"/api/v1/leads/abc/def/geh/ijk": "/api/v1/leads/abc/def/geh/ijk",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
