package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/flatcms/internal/content"
)

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func newDir(t *testing.T) *Directory {
	t.Helper()
	d, err := New([]User{
		{Username: "alice", Password: hash(t, "wonderland"), Role: content.RoleEditor},
		{Username: "bob", Password: hash(t, "builder"), Role: content.RoleReader},
		{Username: "nopass", Role: content.RoleSuperAdmin},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func writeUsers(t *testing.T, list []User) string {
	t.Helper()
	raw, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(p, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestAuthenticate(t *testing.T) {
	d := newDir(t)

	a, err := d.Authenticate("alice", "wonderland")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if a.Username != "alice" || a.Role != content.RoleEditor {
		t.Fatalf("actor = %+v", a)
	}

	for _, tc := range []struct{ user, pw string }{
		{"alice", "wrong"},
		{"mallory", "wonderland"},
		{"nopass", ""},
	} {
		a, err := d.Authenticate(tc.user, tc.pw)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: err = %v", tc.user, err)
		}
		if a != content.GuestActor {
			t.Fatalf("%s: actor = %+v, want guest", tc.user, a)
		}
	}
}

func TestNew_Rejects(t *testing.T) {
	cases := map[string][]User{
		"empty name": {{Role: content.RoleGuest}},
		"duplicate":  {{Username: "a", Role: content.RoleGuest}, {Username: "a", Role: content.RoleGuest}},
		"bad role":   {{Username: "a", Role: "Owner"}},
	}
	for name, list := range cases {
		if _, err := New(list); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := New([]User{{Username: "a", Role: "Owner"}}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("bad role err = %v", err)
	}
}

func TestIsGranted(t *testing.T) {
	d := newDir(t)
	editor := content.Actor{Username: "alice", Role: content.RoleEditor}

	if !d.IsGranted(content.RoleReader, editor) {
		t.Fatal("editor should pass reader")
	}
	if d.IsGranted(content.RoleSuperAdmin, editor) {
		t.Fatal("editor should not pass super admin")
	}
	if !d.IsGranted("", content.GuestActor) {
		t.Fatal("empty minRole means Guest")
	}
	if d.IsGranted(content.RoleGuest, content.Actor{Username: "x", Role: "Owner"}) {
		t.Fatal("unknown role must be denied")
	}
}

func TestCurrentUser(t *testing.T) {
	d := newDir(t)

	if got := d.CurrentUser(context.Background()); got != content.GuestActor {
		t.Fatalf("no actor: %+v", got)
	}

	ctx := WithActor(context.Background(), content.Actor{Username: "bob", Role: content.RoleSuperAdmin})
	if got := d.CurrentUser(ctx); got.Role != content.RoleReader {
		t.Fatalf("role should come from the directory, got %+v", got)
	}

	ctx = WithActor(context.Background(), content.Actor{Username: "ghost", Role: content.RoleEditor})
	if got := d.CurrentUser(ctx); got != content.GuestActor {
		t.Fatalf("removed user: %+v", got)
	}
}

func TestLoad(t *testing.T) {
	d, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if len(d.Users()) != 0 {
		t.Fatal("empty path should give empty directory")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file should fail")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "parse users file") {
		t.Fatalf("bad json err = %v", err)
	}

	p := writeUsers(t, []User{{Username: "carol", Password: hash(t, "pw"), Role: content.RoleEditor}})
	d, err = Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if u, ok := d.Find("carol"); !ok || u.Role != content.RoleEditor {
		t.Fatalf("Find = %+v %v", u, ok)
	}
}

func TestChangePassword_Persists(t *testing.T) {
	p := writeUsers(t, []User{
		{Username: "carol", Password: hash(t, "old"), Role: content.RoleEditor},
		{Username: "dave", Password: hash(t, "x"), Role: content.RoleReader},
	})
	d, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := d.ChangePassword("carol", "wrong", "new"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong old password err = %v", err)
	}
	if err := d.ChangePassword("carol", "old", "new"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := d.Authenticate("carol", "new"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	reloaded, err := Load(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := reloaded.Authenticate("carol", "new"); err != nil {
		t.Fatalf("new password not saved: %v", err)
	}
	if u, _ := reloaded.Find("dave"); u.Role != content.RoleReader {
		t.Fatalf("other users must survive the save: %+v", u)
	}

	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSetRole(t *testing.T) {
	d := newDir(t)
	if err := d.SetRole("bob", content.RoleEditor); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if u, _ := d.Find("bob"); u.Role != content.RoleEditor {
		t.Fatalf("role = %q", u.Role)
	}
	if err := d.SetRole("bob", "Owner"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("bad role err = %v", err)
	}
	if err := d.SetRole("ghost", content.RoleReader); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown user err = %v", err)
	}
	if err := d.SetPassword("ghost", "x"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestSessions_LoginMiddlewareLogout(t *testing.T) {
	d := newDir(t)
	s := NewSessions(d, SessionOptions{Secret: []byte(strings.Repeat("s", 32))})

	// login
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", http.NoBody)
	a, err := s.Login(rec, req, "alice", "wonderland")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if a.Username != "alice" {
		t.Fatalf("actor = %+v", a)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	// the cookie resolves to the actor
	var seen content.Actor
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = d.CurrentUser(r.Context())
	}))
	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen.Username != "alice" || seen.Role != content.RoleEditor {
		t.Fatalf("middleware actor = %+v", seen)
	}

	// no cookie or a forged one is Guest
	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != content.GuestActor {
		t.Fatalf("no cookie actor = %+v", seen)
	}
	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.AddCookie(&http.Cookie{Name: sessionName, Value: "forged"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != content.GuestActor {
		t.Fatalf("forged cookie actor = %+v", seen)
	}

	// logout expires the cookie
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/logout", http.NoBody)
	req.AddCookie(cookies[0])
	if err := s.Logout(rec, req); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	out := rec.Result().Cookies()
	if len(out) != 1 || out[0].MaxAge >= 0 {
		t.Fatalf("logout cookies = %+v", out)
	}
}

func TestSessions_LoginFailureWritesNoCookie(t *testing.T) {
	s := NewSessions(newDir(t), SessionOptions{Secret: []byte(strings.Repeat("s", 32))})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", http.NoBody)
	if _, err := s.Login(rec, req, "alice", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("failed login must not set a cookie")
	}
}
