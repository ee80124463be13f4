package httpmw

import (
	"context"
	"net/http"
	"strconv"
)

// CacheControl marks responses as shareable only when the request runs as
// the anonymous actor. Page visibility depends on who asks, so anything
// rendered for a signed-in user is private. signedIn reports whether the
// request carries a real user; mutating methods are never cached.
func CacheControl(signedIn func(ctx context.Context) bool, publicMaxAge int) func(http.Handler) http.Handler {
	public := "public, max-age=60"
	if publicMaxAge > 0 {
		public = "public, max-age=" + strconv.Itoa(publicMaxAge)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Cookie")
			switch {
			case r.Method != http.MethodGet && r.Method != http.MethodHead:
				w.Header().Set("Cache-Control", "no-store")
			case signedIn != nil && signedIn(r.Context()):
				w.Header().Set("Cache-Control", "private, no-store")
			default:
				w.Header().Set("Cache-Control", public)
			}
			next.ServeHTTP(w, r)
		})
	}
}
