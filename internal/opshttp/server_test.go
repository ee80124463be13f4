package opshttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/flatcms/internal/health"
	"github.com/keithlinneman/flatcms/internal/log"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts Options) (int, func(context.Context) error) {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	opts.Logger = log.Nop()
	ctx := context.Background()
	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { stop(ctx) })
	return opts.Port, stop
}

func opsGet(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = client.Get(url)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

// serve runs the handler from a loopback peer.
func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = "127.0.0.1:5555"
	h.ServeHTTP(rec, req)
	return rec
}

func TestStart_ServesAndStops(t *testing.T) {
	port, stop := startOps(t, Options{Health: health.Fixed(true, "")})
	if code, body := opsGet(t, port, "/-/healthy"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthy = %d %q", code, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortConflict(t *testing.T) {
	port, _ := startOps(t, Options{})
	if _, err := Start(context.Background(), Options{Port: port}); err == nil {
		t.Fatal("expected error for port conflict")
	}
}

func TestNewHandler_Probes(t *testing.T) {
	gate := &health.ShutdownGate{}
	h := NewHandler(Options{
		Health:    health.Fixed(false, "wedged"),
		Readiness: gate.Probe(),
	})

	rec := serve(h, "/-/healthy")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "wedged") {
		t.Fatalf("healthy = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
	gate.Set("draining")
	if rec := serve(h, "/-/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining ready = %d", rec.Code)
	}
}

func TestNewHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "flatcms_up 1\n")
	})
	if rec := serve(NewHandler(Options{Metrics: metrics}), "/metrics"); rec.Body.String() != "flatcms_up 1\n" {
		t.Fatalf("metrics body = %q", rec.Body.String())
	}
	if rec := serve(NewHandler(Options{}), "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("nil metrics = %d", rec.Code)
	}
}

func TestNewHandler_Pprof(t *testing.T) {
	if rec := serve(NewHandler(Options{EnablePprof: true}), "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled = %d", rec.Code)
	}
	if rec := serve(NewHandler(Options{}), "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d", rec.Code)
	}
}

func TestNewHandler_Recover(t *testing.T) {
	panics := 0
	h := NewHandler(Options{
		Metrics:      http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(errors.New("boom")) }),
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
	})
	if rec := serve(h, "/metrics"); rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status = %d panics = %d", rec.Code, panics)
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := requireNonPublicNetwork(log.Nop(), ok)

	cases := []struct {
		addr string
		want int
	}{
		{"127.0.0.1:12345", http.StatusOK},
		{"[::1]:12345", http.StatusOK},
		{"10.0.0.1:8080", http.StatusOK},
		{"172.16.0.1:8080", http.StatusOK},
		{"192.168.1.1:8080", http.StatusOK},
		{"169.254.1.1:8080", http.StatusOK},
		{"[::ffff:10.0.0.1]:12345", http.StatusOK},
		{"8.8.8.8:12345", http.StatusForbidden},
		{"203.0.113.1:80", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:12345", http.StatusForbidden},
		{"not-an-address", http.StatusForbidden},
		{"", http.StatusForbidden},
		{"999.999.999.999:8080", http.StatusForbidden},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
		req.RemoteAddr = tc.addr
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%q: status = %d, want %d", tc.addr, rec.Code, tc.want)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "8.8.8.8")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("proxied request: status = %d", rec.Code)
	}
}
