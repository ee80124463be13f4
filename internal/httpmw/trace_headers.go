package httpmw

import (
	"io"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/otel/trace"
)

// TraceResponseHeaders tags responses with the request's trace and span
// ids so an editor can quote them when a save fails. Responses a shared
// cache may store are left untagged; a cached page would otherwise hand
// one visitor's trace id to everyone after them. The decision is made
// when the headers go out, after handlers had their say on caching.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	if traceHeader == "" {
		traceHeader = "X-Trace-Id"
	}
	if spanHeader == "" {
		spanHeader = "X-Span-Id"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if !sc.IsValid() {
				next.ServeHTTP(w, r)
				return
			}

			tagged := false
			tag := func() {
				if tagged {
					return
				}
				tagged = true
				h := w.Header()
				if sharedCacheable(h.Get("Cache-Control")) {
					return
				}
				h.Set(traceHeader, sc.TraceID().String())
				h.Set(spanHeader, sc.SpanID().String())
			}

			ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						tag()
						next(code)
					}
				},
				Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						tag()
						return next(b)
					}
				},
				ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
					return func(src io.Reader) (int64, error) {
						tag()
						return next(src)
					}
				},
			})
			next.ServeHTTP(ww, r)
			// handlers that write nothing still get their headers sent by net/http
			tag()
		})
	}
}

// sharedCacheable reports whether a Cache-Control value lets shared
// caches keep the response.
func sharedCacheable(cc string) bool {
	for _, d := range strings.Split(cc, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "public" || strings.HasPrefix(d, "s-maxage") {
			return true
		}
	}
	return false
}
