// Package pathutil checks page ids and request paths before they are
// mapped onto the content directory.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// SafePageID reports whether p can name a page file without escaping the
// content root: no NUL, no backslash, no empty or dot segments.
func SafePageID(p string) bool {
	if strings.ContainsAny(p, "\x00\\") || strings.Contains(p, "//") {
		return false
	}
	return !HasDotSegments(p)
}
