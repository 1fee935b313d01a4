package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareMintsAndReusesClientID(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !IsValidClientID(seen) {
		t.Fatalf("expected minted client id, got %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != seen {
		t.Fatalf("expected cookie with client id, got %+v", cookies)
	}

	first := seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != first {
		t.Fatalf("cookie id not reused: %q != %q", seen, first)
	}
}

func TestHeaderWinsOverCookie(t *testing.T) {
	t.Parallel()

	headerID, _ := NewClientID()
	cookieID, _ := NewClientID()

	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ClientHeaderName, headerID)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: cookieID})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != headerID {
		t.Fatalf("expected header id %q, got %q", headerID, seen)
	}
}

func TestRateKeyFallsBackToIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := RateKey(req); got != "10.0.0.7" {
		t.Fatalf("expected ip key, got %q", got)
	}
}
