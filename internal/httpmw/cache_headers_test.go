package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type signedInKey struct{}

func signedIn(ctx context.Context) bool {
	v, _ := ctx.Value(signedInKey{}).(bool)
	return v
}

func cacheFor(t *testing.T, method string, user bool, maxAge int) http.Header {
	t.Helper()
	h := CacheControl(signedIn, maxAge)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(method, "/docs", http.NoBody)
	if user {
		req = req.WithContext(context.WithValue(req.Context(), signedInKey{}, true))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestCacheControl_Guest(t *testing.T) {
	h := cacheFor(t, http.MethodGet, false, 0)
	if got := h.Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := h.Get("Vary"); got != "Cookie" {
		t.Fatalf("Vary = %q", got)
	}
	if got := cacheFor(t, http.MethodHead, false, 300).Get("Cache-Control"); got != "public, max-age=300" {
		t.Fatalf("custom max-age = %q", got)
	}
}

func TestCacheControl_SignedIn(t *testing.T) {
	if got := cacheFor(t, http.MethodGet, true, 0).Get("Cache-Control"); got != "private, no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestCacheControl_Mutations(t *testing.T) {
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		if got := cacheFor(t, m, false, 0).Get("Cache-Control"); got != "no-store" {
			t.Fatalf("%s Cache-Control = %q", m, got)
		}
	}
}

func TestCacheControl_NilSignedIn(t *testing.T) {
	h := CacheControl(nil, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("Cache-Control = %q", got)
	}
}
