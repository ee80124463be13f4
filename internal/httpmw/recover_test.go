package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/keithlinneman/flatcms/internal/log"
)

// errLogger records Error calls along with the fields bound by With.
type errLogger struct {
	mu     sync.Mutex
	fields []any
	errs   []error
	msgs   []string
}

func (l *errLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, kv...)
	return l
}

func (l *errLogger) Error(_ context.Context, err error, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
	l.msgs = append(l.msgs, msg)
}

func (l *errLogger) Debug(context.Context, string, ...any) {}
func (l *errLogger) Info(context.Context, string, ...any)  {}
func (l *errLogger) Warn(context.Context, string, ...any)  {}
func (l *errLogger) Sync() error                           { return nil }

func panicking(v any) http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(v) })
}

func TestRecover_PassesThrough(t *testing.T) {
	l := &errLogger{}
	calls := 0
	h := Recover(l, func() { calls++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("page saved"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pages", http.NoBody))

	if rec.Code != http.StatusCreated || rec.Body.String() != "page saved" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if calls != 0 || len(l.errs) != 0 {
		t.Fatalf("no panic expected: calls=%d errs=%v", calls, l.errs)
	}
}

func TestRecover_Panics(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		wantErr string
	}{
		{"string", "template exploded", "panic: template exploded"},
		{"error", errors.New("nil page"), "nil page"},
		{"int", 42, "panic: 42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &errLogger{}
			calls := 0
			rec := httptest.NewRecorder()
			Recover(l, func() { calls++ })(panicking(tc.value)).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/intro", http.NoBody))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "Internal Server Error") {
				t.Fatalf("body = %q", rec.Body.String())
			}
			if calls != 1 {
				t.Fatalf("onPanic calls = %d", calls)
			}
			if len(l.errs) != 1 || !strings.Contains(l.errs[0].Error(), tc.wantErr) {
				t.Fatalf("logged errs = %v", l.errs)
			}
			if v, _ := fieldValue(l.fields, "url.path"); v != "/docs/intro" {
				t.Fatalf("url.path = %v", v)
			}
			if v, _ := fieldValue(l.fields, "http.request.method"); v != http.MethodGet {
				t.Fatalf("method = %v", v)
			}
		})
	}
}

func TestRecover_NilLoggerAndCallback(t *testing.T) {
	rec := httptest.NewRecorder()
	Recover(nil, nil)(panicking("boom")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRecover_ReraisesAbortHandler(t *testing.T) {
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	Recover(log.Nop(), nil)(panicking(http.ErrAbortHandler)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
