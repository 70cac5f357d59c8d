package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/v1/user/abc":             "/v1/user/:id",
		"/v1/service/abc":          "/v1/service/:id",
		"/v1/key/abc":              "/v1/key/:id",
		"/v1/audit/abc":            "/v1/audit/:id",
		"/v1/auth/token/verify":    "/v1/auth/token/verify",
		"/v1/auth/csrf?limit=10":   "/v1/auth/csrf",
		"/v1/auth/provider/github": "/v1/auth/provider/github",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
