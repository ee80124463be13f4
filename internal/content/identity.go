package content

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	// RootID is the id of the content root's index page.
	RootID = "/"

	indexName = "index"
)

var hiddenSegment = regexp.MustCompile(`(?:^|/)_`)

// IdentityFor derives a page id from a content-relative slash path:
// "index.md" is "/", "a/index.md" is "/a" and "a/b.md" is "/a/b".
func IdentityFor(file, ext string) string {
	id := "/" + strings.TrimPrefix(strings.TrimSuffix(file, ext), "/")
	id = strings.TrimSuffix(id, "/"+indexName)
	if id == "" {
		return RootID
	}
	return id
}

// ResolveConflicts drops a leaf file "x.md" whenever "x/index.md" was also
// discovered, so every id maps to exactly one file. Order is preserved.
func ResolveConflicts(files []string, ext string) []string {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f] = struct{}{}
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		folderForm := strings.TrimSuffix(f, ext) + "/" + indexName + ext
		if _, ok := seen[folderForm]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ParentPath is every id segment but the last; "" for top-level pages.
func ParentPath(id string) string {
	i := strings.LastIndex(id, "/")
	if i <= 0 {
		return ""
	}
	return id[:i]
}

// IsHiddenID reports whether any id segment starts with "_".
func IsHiddenID(id string) bool { return hiddenSegment.MatchString(id) }

// IsDescendant reports whether id is strictly below ancestor, comparing
// whole segments. Every page but the root is below RootID.
func IsDescendant(id, ancestor string) bool {
	if ancestor == RootID {
		return id != RootID
	}
	return strings.HasPrefix(id, strings.TrimSuffix(ancestor, "/")+"/")
}

// IsDirectChild reports whether id is exactly one segment below parent.
func IsDirectChild(id, parent string) bool {
	if !IsDescendant(id, parent) {
		return false
	}
	if parent == RootID {
		return strings.Count(id, "/") == 1
	}
	return strings.Count(id, "/") == strings.Count(parent, "/")+1
}

// URLScheme turns page ids into links. Identity never depends on it.
type URLScheme interface {
	URL(id string) string
}

// PathURLs maps "/a/b" to Base+"/a/b".
type PathURLs struct {
	Base string
}

func (p PathURLs) URL(id string) string {
	base := strings.TrimSuffix(p.Base, "/")
	if id == RootID {
		return base + "/"
	}
	return base + path.Clean("/"+id)
}

// QueryURLs maps "/a/b" to Base+"?a/b", for hosts without path rewriting.
type QueryURLs struct {
	Base string
}

func (q QueryURLs) URL(id string) string {
	base := q.Base
	if base == "" {
		base = "/"
	}
	if id == RootID {
		return base
	}
	return base + "?" + (&url.URL{Path: strings.TrimPrefix(id, "/")}).EscapedPath()
}
