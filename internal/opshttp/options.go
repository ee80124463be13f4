package opshttp

import (
	"net/http"

	"github.com/keithlinneman/flatcms/internal/health"
	"github.com/keithlinneman/flatcms/internal/log"
)

type Options struct {
	Logger      log.Logger
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	OnPanic      func()
}
