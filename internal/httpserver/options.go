package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/flatcms/internal/health"
	"github.com/keithlinneman/flatcms/internal/httpmw"
	"github.com/keithlinneman/flatcms/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// SessionMW resolves the signed-in actor onto the request context.
	SessionMW func(http.Handler) http.Handler
	// Actor names the request's user for the access log; "" for guests.
	Actor func(ctx context.Context) string
	// SignedIn decides between public and private caching.
	SignedIn     func(ctx context.Context) bool
	PublicMaxAge int

	// APIRoutes registers the JSON API; SiteHandler serves everything else.
	APIRoutes   func(chi.Router)
	SiteHandler http.Handler
}
