package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/users"
)

type env struct {
	contentDir string
	usersFile  string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{contentDir: filepath.Join(root, "content"), usersFile: filepath.Join(root, "users.json")}
	for name, body := range map[string]string{
		"index.md":      "---\ntitle: Home\n---\nWelcome",
		"docs/index.md": "---\ntitle: Docs\n---\nDocs body",
		"docs/intro.md": "---\ntitle: Intro\n---\nIntro body",
	} {
		p := filepath.Join(e.contentDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal([]users.User{
		{Username: "root", Password: string(hash), Role: content.RoleSuperAdmin},
		{Username: "alice", Password: string(hash), Role: content.RoleEditor},
		{Username: "bob", Password: string(hash), Role: content.RoleReader},
	})
	if err := os.WriteFile(e.usersFile, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e env) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	full := append([]string{"-content-dir=" + e.contentDir, "-users-file=" + e.usersFile, "-page-tree=true"}, args...)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), full, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestList(t *testing.T) {
	e := newEnv(t)
	code, out, errOut := e.run(t, "", "-json", "list")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var pages []pageOut
	if err := json.Unmarshal([]byte(out), &pages); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	ids := map[string]bool{}
	for _, p := range pages {
		ids[p.ID] = true
	}
	for _, id := range []string{"/", "/docs", "/docs/intro"} {
		if !ids[id] {
			t.Fatalf("missing %s in %v", id, ids)
		}
	}

	code, out, _ = e.run(t, "", "list")
	if code != 0 || !strings.Contains(out, "TITLE") || !strings.Contains(out, "/docs/intro") {
		t.Fatalf("text list = %d %q", code, out)
	}
}

func TestTree(t *testing.T) {
	e := newEnv(t)
	code, out, errOut := e.run(t, "", "tree")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "    /docs/intro  Intro") {
		t.Fatalf("tree = %q", out)
	}
}

func TestShow(t *testing.T) {
	e := newEnv(t)
	code, out, _ := e.run(t, "", "show", "docs/intro")
	if code != 0 || !strings.Contains(out, "title: Intro") || !strings.Contains(out, "Intro body") {
		t.Fatalf("show = %d %q", code, out)
	}
	code, out, _ = e.run(t, "", "show", "-render", "/")
	if code != 0 || !strings.Contains(out, "<p>Welcome</p>") {
		t.Fatalf("show -render = %d %q", code, out)
	}
	if code, _, _ := e.run(t, "", "show", "nope"); code != 1 {
		t.Fatalf("missing page exit = %d", code)
	}
}

func TestCreateEditDelete(t *testing.T) {
	e := newEnv(t)

	code, out, errOut := e.run(t, "", "-as=alice", "create", "docs", "Getting Started")
	if code != 0 {
		t.Fatalf("create exit %d: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "/docs/getting-started" {
		t.Fatalf("created id = %q", out)
	}
	if _, err := os.Stat(filepath.Join(e.contentDir, "docs", "getting-started.md")); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	code, _, errOut = e.run(t, "Fresh body\n", "-as=alice", "edit", "-body=-", "-set", "description=Intro to it", "docs/getting-started")
	if code != 0 {
		t.Fatalf("edit exit %d: %s", code, errOut)
	}
	raw, err := os.ReadFile(filepath.Join(e.contentDir, "docs", "getting-started.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "Fresh body") || !strings.Contains(string(raw), "description: Intro to it") {
		t.Fatalf("edited file = %q", raw)
	}

	if code, _, _ := e.run(t, "", "-as=alice", "delete", "/"); code != 1 {
		t.Fatalf("root delete exit = %d", code)
	}
	code, _, errOut = e.run(t, "", "-as=alice", "delete", "docs/getting-started")
	if code != 0 {
		t.Fatalf("delete exit %d: %s", code, errOut)
	}
	if _, err := os.Stat(filepath.Join(e.contentDir, "docs", "getting-started.md")); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
}

func TestMutationsNeedEditor(t *testing.T) {
	e := newEnv(t)
	for _, args := range [][]string{
		{"create", "/", "Nope"},
		{"-as=bob", "create", "/", "Nope"},
		{"-as=bob", "delete", "docs/intro"},
		{"-as=bob", "edit", "-set", "title=x", "docs/intro"},
	} {
		code, _, errOut := e.run(t, "", args...)
		if code != 1 || !strings.Contains(errOut, "Editor") {
			t.Fatalf("%v: exit %d %q", args, code, errOut)
		}
	}
	if code, _, _ := e.run(t, "", "-as=mallory", "list"); code != 1 {
		t.Fatal("unknown -as user should fail")
	}
}

func TestPasswdAndRole(t *testing.T) {
	e := newEnv(t)

	if code, _, _ := e.run(t, "newpw\n", "-as=alice", "passwd", "bob"); code != 1 {
		t.Fatal("editor must not change passwords")
	}
	if code, _, errOut := e.run(t, "newpw\n", "-as=root", "passwd", "bob"); code != 0 {
		t.Fatalf("passwd exit %d: %s", code, errOut)
	}
	if code, _, errOut := e.run(t, "", "-as=root", "role", "bob", content.RoleEditor); code != 0 {
		t.Fatalf("role exit %d: %s", code, errOut)
	}

	dir, err := users.Load(e.usersFile)
	if err != nil {
		t.Fatal(err)
	}
	a, err := dir.Authenticate("bob", "newpw")
	if err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if a.Role != content.RoleEditor {
		t.Fatalf("role = %q", a.Role)
	}
}

func TestUsage(t *testing.T) {
	e := newEnv(t)
	if code, _, _ := e.run(t, ""); code != 2 {
		t.Fatalf("no command exit = %d", code)
	}
	if code, _, errOut := e.run(t, "", "frobnicate"); code != 2 || !strings.Contains(errOut, "usage") {
		t.Fatalf("unknown command = %d %q", code, errOut)
	}
}

func TestNormalizeID(t *testing.T) {
	for in, want := range map[string]string{
		"":             "/",
		"/":            "/",
		"docs/intro":   "/docs/intro",
		"/docs/intro/": "/docs/intro",
	} {
		if got := normalizeID(in); got != want {
			t.Fatalf("normalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
