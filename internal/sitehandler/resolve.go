package sitehandler

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/pathutil"
)

// resolveID maps a request to a page id.
//
// Returns:
// - id: page id ("/" for the root)
// - redirectTo: if non-empty, caller should redirect to this URL
// - ok: whether the request names a page at all
func resolveID(r *http.Request, base string, query bool) (id, redirectTo string, ok bool) {
	p := r.URL.Path
	if p == "" {
		p = "/"
	}
	if base != "" {
		if p == base {
			return "", base + "/", true
		}
		if !strings.HasPrefix(p, base+"/") {
			return "", "", false
		}
		p = strings.TrimPrefix(p, base)
	}

	if query {
		if p != "/" {
			return "", "", false
		}
		q, err := url.PathUnescape(r.URL.RawQuery)
		if err != nil {
			return "", "", false
		}
		// tolerate "?/a/b" and "?a/b/"
		p = "/" + strings.Trim(q, "/")
	}

	if !pathutil.SafePageID(p) {
		return "", "", false
	}

	// canonical form has no trailing slash
	if p != "/" && strings.HasSuffix(p, "/") {
		return "", base + strings.TrimSuffix(p, "/"), true
	}
	if p == "/" {
		return content.RootID, "", true
	}
	return path.Clean(p), "", true
}
