package sitehandler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/flatcms/internal/pathutil"
)

func TestResolveID_Path(t *testing.T) {
	cases := []struct {
		name, base, target   string
		wantID, wantRedirect string
		wantOK               bool
	}{
		{"root", "", "/", "/", "", true},
		{"page", "", "/docs/intro", "/docs/intro", "", true},
		{"trailing slash", "", "/docs/", "", "/docs", true},
		{"dot segment", "", "/docs/../etc", "", "", false},
		{"double slash", "", "//docs", "", "", false},
		{"backslash", "", "/docs%5Cintro", "", "", false},
		{"base root", "/site", "/site/", "/", "", true},
		{"base bare", "/site", "/site", "", "/site/", true},
		{"base page", "/site", "/site/a/b", "/a/b", "", true},
		{"base trailing", "/site", "/site/a/", "", "/site/a", true},
		{"outside base", "/site", "/other/a", "", "", false},
		{"base prefix only", "/site", "/sitemap", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, http.NoBody)
			id, redirect, ok := resolveID(r, tc.base, false)
			if id != tc.wantID || redirect != tc.wantRedirect || ok != tc.wantOK {
				t.Fatalf("resolveID(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tc.target, id, redirect, ok, tc.wantID, tc.wantRedirect, tc.wantOK)
			}
		})
	}
}

func TestResolveID_Query(t *testing.T) {
	cases := []struct {
		target string
		wantID string
		wantOK bool
	}{
		{"/", "/", true},
		{"/?docs/intro", "/docs/intro", true},
		{"/?/docs/intro/", "/docs/intro", true},
		{"/?caf%C3%A9", "/café", true},
		{"/?docs/../secret", "", false},
		{"/?%zz", "", false},
		{"/docs/intro", "", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.target, http.NoBody)
		id, redirect, ok := resolveID(r, "", true)
		if id != tc.wantID || redirect != "" || ok != tc.wantOK {
			t.Fatalf("resolveID(%q) = (%q, %q, %v), want (%q, \"\", %v)", tc.target, id, redirect, ok, tc.wantID, tc.wantOK)
		}
	}
}

func FuzzResolveID(f *testing.F) {
	for _, s := range []string{"/", "/a/b", "/a/../b", "/a//b", "/%2e%2e/x"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, p string) {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.URL.Path = p
		id, _, ok := resolveID(r, "", false)
		if ok && id != "" && !pathutil.SafePageID(id) {
			t.Fatalf("unsafe id %q from %q", id, p)
		}
	})
}
