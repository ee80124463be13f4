package httpmw

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/flatcms/internal/log"
)

// test helpers

type capturedLog struct {
	msg    string
	fields []any
}

// flatLogger captures With() and Info() calls for test assertions.
// Returns itself from With() so all calls land in one place.
type flatLogger struct {
	mu    sync.Mutex
	infos []capturedLog
	withs [][]any
}

func newFlatLogger() *flatLogger { return &flatLogger{} }

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Debug(context.Context, string, ...any)        {}
func (l *flatLogger) Warn(context.Context, string, ...any)         {}
func (l *flatLogger) Error(context.Context, error, string, ...any) {}
func (l *flatLogger) Sync() error                                  { return nil }

func (l *flatLogger) lastInfo() (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.infos) == 0 {
		return capturedLog{}, false
	}
	return l.infos[len(l.infos)-1], true
}

// fieldValue extracts a value by key from a kv slice.
func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

func withFieldValue(withs [][]any, key string) (any, bool) {
	for _, kv := range withs {
		if v, ok := fieldValue(kv, key); ok {
			return v, true
		}
	}
	return nil, false
}

// withCtxLogger installs fl the way WithLogger would.
func withCtxLogger(fl log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context(), fl)))
	})
}

type flusherRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flusherRecorder) Flush() { f.flushed = true }

// responseWriter

func TestResponseWriter_StatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}

	rw.Write([]byte("hello"))
	rw.Write([]byte(" world"))
	rw.WriteHeader(http.StatusTeapot) // superfluous, ignored

	if rw.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.status)
	}
	if rw.bytes != 11 {
		t.Fatalf("bytes = %d, want 11", rw.bytes)
	}
}

func TestResponseWriter_WriteHeaderFirst(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}
	rw.WriteHeader(http.StatusNotFound)
	rw.Write([]byte("nope"))
	if rw.status != http.StatusNotFound || rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d / %d", rw.status, rec.Code)
	}
	if rw.statusOrOK() != http.StatusNotFound {
		t.Fatal("statusOrOK should report the written status")
	}
}

func TestResponseWriter_FlushAndUnwrap(t *testing.T) {
	fr := &flusherRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw := &responseWriter{ResponseWriter: fr, ctx: context.Background()}
	rw.Flush()
	if !fr.flushed {
		t.Fatal("Flush not forwarded")
	}
	if rw.Unwrap() != http.ResponseWriter(fr) {
		t.Fatal("Unwrap should return the wrapped writer")
	}

	// no Flusher underneath: must not panic
	plain := &responseWriter{ResponseWriter: struct{ http.ResponseWriter }{httptest.NewRecorder()}, ctx: context.Background()}
	plain.Flush()
}

func TestResponseWriter_NoSpanWithoutRecordingParent(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	rw.Write([]byte("x"))
	rw.Write([]byte("y"))
	if rw.writeSpan != nil {
		t.Fatal("no span expected without a recording parent")
	}
	rw.finishWriteSpan()
}

// schemeFromRequest

func TestSchemeFromRequest(t *testing.T) {
	cases := []struct {
		name string
		xfp  string
		tls  bool
		want string
	}{
		{"default", "", false, "http"},
		{"tls", "", true, "https"},
		{"forwarded https", "https", false, "https"},
		{"forwarded mixed case", "HTTPS", false, "https"},
		{"forwarded list", "https, http", false, "https"},
		{"forwarded junk falls back", "javascript", true, "https"},
		{"forwarded injection", "https\r\nX-Evil: 1", false, "http"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tc.xfp != "" {
				r.Header["X-Forwarded-Proto"] = []string{tc.xfp}
			}
			if tc.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tc.want {
				t.Fatalf("scheme = %q, want %q", got, tc.want)
			}
		})
	}
}

// WithLogger

func TestWithLogger_EnrichesContext(t *testing.T) {
	fl := newFlatLogger()
	var ctxLogger log.Logger
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = log.FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/docs/intro?secret=1", http.NoBody)
	req.RemoteAddr = "10.0.0.1:12345"
	req = req.WithContext(WithRequestID(WithClientIP(req.Context(), "203.0.113.9"), "req-1"))
	WithLogger(fl)(handler).ServeHTTP(httptest.NewRecorder(), req)

	if ctxLogger == nil {
		t.Fatal("logger not set in context")
	}
	want := map[string]any{
		"http.request.method":  http.MethodGet,
		"url.path":             "/docs/intro",
		"network.peer.address": "10.0.0.1",
		"client.address":       "203.0.113.9",
		"request_id":           "req-1",
		"url.scheme":           "http",
	}
	for k, v := range want {
		if got, ok := withFieldValue(fl.withs, k); !ok || got != v {
			t.Fatalf("%s = %v, want %v", k, got, v)
		}
	}
	if _, ok := withFieldValue(fl.withs, "url.query"); ok {
		t.Fatal("query string must not be logged")
	}
}

func TestWithLogger_ClientFallsBackToPeer(t *testing.T) {
	fl := newFlatLogger()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.0.2.1:80"
	WithLogger(fl)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(httptest.NewRecorder(), req)
	if v, _ := withFieldValue(fl.withs, "client.address"); v != "192.0.2.1" {
		t.Fatalf("client.address = %v", v)
	}
}

// AccessLog

func TestAccessLog_LogsRequest(t *testing.T) {
	fl := newFlatLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	})
	actor := func(context.Context) string { return "alice" }

	req := httptest.NewRequest(http.MethodPost, "/api/pages", http.NoBody)
	req.ContentLength = 42
	withCtxLogger(fl, AccessLog(actor)(handler)).ServeHTTP(httptest.NewRecorder(), req)

	entry, ok := fl.lastInfo()
	if !ok || entry.msg != "http request" {
		t.Fatalf("entry = %+v", entry)
	}
	checks := map[string]any{
		"http.response.status_code": http.StatusCreated,
		"http.response.body.size":   int64(5),
		"http.request.body.size":    int64(42),
		"http.route":                "/api/pages",
		"user":                      "alice",
	}
	for k, v := range checks {
		if got, ok := fieldValue(entry.fields, k); !ok || got != v {
			t.Fatalf("%s = %v, want %v", k, got, v)
		}
	}
	if v, ok := fieldValue(entry.fields, "http.server.request.duration"); !ok || v.(float64) < 0 {
		t.Fatalf("duration = %v", v)
	}
}

func TestAccessLog_SkipsHealthAndAnonymousUser(t *testing.T) {
	fl := newFlatLogger()
	h := withCtxLogger(fl, AccessLog(func(context.Context) string { return "" })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))

	for _, p := range []string{"/-/ready", "/-/healthy"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, http.NoBody))
	}
	if _, ok := fl.lastInfo(); ok {
		t.Fatal("health probes should not be logged")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	entry, ok := fl.lastInfo()
	if !ok {
		t.Fatal("no info log")
	}
	if _, ok := fieldValue(entry.fields, "user"); ok {
		t.Fatal("empty actor should not be logged")
	}
	if v, _ := fieldValue(entry.fields, "http.response.status_code"); v != http.StatusOK {
		t.Fatalf("default status = %v", v)
	}
}

func TestAccessLog_NoLoggerInContext(t *testing.T) {
	h := AccessLog(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestAccessLog_WithChiRoutePattern(t *testing.T) {
	fl := newFlatLogger()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return withCtxLogger(fl, next) })
	r.Use(AccessLog(nil))
	r.Get("/api/pages/*", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/pages/docs/intro", http.NoBody))

	entry, ok := fl.lastInfo()
	if !ok {
		t.Fatal("no info log")
	}
	if v, _ := fieldValue(entry.fields, "http.route"); v != "/api/pages/*" {
		t.Fatalf("http.route = %v", v)
	}
}

// Scope

func TestScope_EnrichesLogger(t *testing.T) {
	fl := newFlatLogger()
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		log.FromContext(r.Context()).Info(r.Context(), "inner handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(log.WithContext(req.Context(), fl))
	Scope("pagesapi")(handler).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("handler not called")
	}
	if v, ok := withFieldValue(fl.withs, "handler"); !ok || v != "pagesapi" {
		t.Fatalf("handler = %v", v)
	}
}
