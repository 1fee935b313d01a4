package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSCredentialsOnlyForExplicitOrigins(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	cases := []struct {
		allowed     []string
		origin      string
		wantOrigin  string
		wantCredent bool
	}{
		{[]string{"http://localhost:5173"}, "http://localhost:5173", "http://localhost:5173", true},
		{[]string{"*"}, "http://evil.test", "http://evil.test", false},
		{[]string{"http://localhost:5173"}, "http://evil.test", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", tc.origin)
		rec := httptest.NewRecorder()
		CORS(tc.allowed)(next).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
			t.Errorf("origin %q: allow-origin = %q, want %q", tc.origin, got, tc.wantOrigin)
		}
		if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tc.wantCredent {
			t.Errorf("origin %q: credentials = %v, want %v", tc.origin, got, tc.wantCredent)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	called := false
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/prompt", nil))
	if called || rec.Code != http.StatusNoContent {
		t.Fatalf("preflight should short-circuit, called=%v code=%d", called, rec.Code)
	}
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	if !OriginAllowed([]string{"http://a"}, "") {
		t.Fatal("missing origin should be allowed")
	}
	if OriginAllowed([]string{"http://a"}, "http://b") {
		t.Fatal("unlisted origin should be rejected")
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := OriginPatterns([]string{"http://localhost:5173", "example.com"})
	if len(got) != 2 || got[0] != "localhost:5173" || got[1] != "example.com" {
		t.Fatalf("unexpected patterns %v", got)
	}
	if got := OriginPatterns([]string{"http://a", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard should win, got %v", got)
	}
}
