package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/flatcms/internal/log"
)

type gauge struct{ calls []bool }

func (g *gauge) SetProfilingActive(active bool) { g.calls = append(g.calls, active) }

func TestStart_Disabled(t *testing.T) {
	g := &gauge{}
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{
		Enabled:              false,
		AuthToken:            "secret",
		ProfileMutexFraction: 999,
		Gauge:                g,
	})
	if err != nil {
		t.Fatalf("disabled should never error: %v", err)
	}
	stop()
	stop()
	if len(g.calls) != 1 || g.calls[0] {
		t.Fatalf("gauge calls = %v, want [false]", g.calls)
	}
}

func TestStart_EnabledWithoutAddress(t *testing.T) {
	g := &gauge{}
	stop, err := Start(context.Background(), Options{Enabled: true, Gauge: g})
	if err == nil {
		t.Fatal("expected error without server address")
	}
	if !strings.Contains(err.Error(), "server address") {
		t.Fatalf("err = %v", err)
	}
	if stop == nil {
		t.Fatal("stop must be non-nil even on error")
	}
	stop()
	if len(g.calls) != 0 {
		t.Fatalf("gauge should be untouched, got %v", g.calls)
	}
}

func TestConfig(t *testing.T) {
	cfg, err := config(Options{
		ServerAddress: "http://pyroscope:4040",
		TenantID:      "team-a",
		Tags:          map[string]string{"env": "dev"},
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ApplicationName != DefaultAppName {
		t.Fatalf("app name = %q", cfg.ApplicationName)
	}
	if cfg.TenantID != "team-a" || cfg.Tags["env"] != "dev" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.ProfileTypes) != len(profileTypes) {
		t.Fatalf("profile types = %d", len(cfg.ProfileTypes))
	}

	cfg, _ = config(Options{ServerAddress: "x", AppName: "cms.staging"})
	if cfg.ApplicationName != "cms.staging" {
		t.Fatalf("app name = %q", cfg.ApplicationName)
	}
}
