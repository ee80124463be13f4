package cryptoutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func TestSHA256Hex_KnownVector(t *testing.T) {
	// SHA-256 of empty string is a well-known constant
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hex([]byte{}); got != want {
		t.Fatalf("SHA256Hex(empty) = %q, want %q", got, want)
	}
}

func TestSHA256Base64_MatchesHex(t *testing.T) {
	data := []byte("---\ntitle: Home\n---\nWelcome Home")
	raw, err := base64.StdEncoding.DecodeString(SHA256Base64(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hex.EncodeToString(raw) != SHA256Hex(data) {
		t.Fatal("base64 and hex digests disagree")
	}
}

func TestHashEqual(t *testing.T) {
	a := SHA256Hex([]byte("one"))
	if !HashEqual(a, SHA256Hex([]byte("one"))) {
		t.Fatal("same-value hashes should be equal")
	}
	if HashEqual(a, SHA256Hex([]byte("two"))) {
		t.Fatal("different hashes should not be equal")
	}
	if HashEqual(a, a[:32]) {
		t.Fatal("full hash should not equal its prefix")
	}
	if HashEqual(strings.ToUpper(a), a) {
		t.Fatal("HashEqual should be case-sensitive")
	}
}

func TestETag(t *testing.T) {
	e := ETag([]byte("<p>hi</p>"))
	if len(e) != 34 || e[0] != '"' || e[33] != '"' {
		t.Fatalf("ETag = %q", e)
	}
	if e == ETag([]byte("<p>bye</p>")) {
		t.Fatal("different bodies should have different tags")
	}
}

func TestETagMatches(t *testing.T) {
	e := ETag([]byte("body"))
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{e, true},
		{"W/" + e, true},
		{`"other", ` + e, true},
		{`"other"`, false},
		{"*", true},
		{" , ", false},
	}
	for _, tc := range cases {
		if got := ETagMatches(tc.header, e); got != tc.want {
			t.Fatalf("ETagMatches(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func FuzzSHA256Hex(f *testing.F) {
	f.Add([]byte(""))
	f.Add([]byte("hello"))
	f.Add([]byte{0xff, 0xfe, 0xfd})

	f.Fuzz(func(t *testing.T, data []byte) {
		result := SHA256Hex(data)
		if len(result) != 64 {
			t.Errorf("SHA256Hex length = %d, want 64", len(result))
		}
		h := sha256.Sum256(data)
		if want := hex.EncodeToString(h[:]); result != want {
			t.Errorf("SHA256Hex = %q, stdlib = %q", result, want)
		}
	})
}

func FuzzHashEqual(f *testing.F) {
	f.Add("abc", "abc")
	f.Add("abc", "def")
	f.Add("", "")

	f.Fuzz(func(t *testing.T, a, b string) {
		if HashEqual(a, b) != (a == b) {
			t.Errorf("HashEqual(%q, %q) disagrees with ==", a, b)
		}
	})
}
