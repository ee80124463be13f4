package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/keithlinneman/flatcms/internal/cfg"
	"github.com/keithlinneman/flatcms/internal/content"
	"github.com/keithlinneman/flatcms/internal/health"
	"github.com/keithlinneman/flatcms/internal/httpmw"
	"github.com/keithlinneman/flatcms/internal/httpserver"
	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/metrics"
	"github.com/keithlinneman/flatcms/internal/mirror"
	"github.com/keithlinneman/flatcms/internal/opshttp"
	"github.com/keithlinneman/flatcms/internal/otelx"
	"github.com/keithlinneman/flatcms/internal/pagesapi"
	"github.com/keithlinneman/flatcms/internal/prof"
	"github.com/keithlinneman/flatcms/internal/ratelimit"
	"github.com/keithlinneman/flatcms/internal/sitehandler"
	"github.com/keithlinneman/flatcms/internal/users"
	v "github.com/keithlinneman/flatcms/internal/version"
)

const appName = "flatcms"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(appName, vi.String())
		os.Exit(0)
	}

	warnf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	// precedence: cli flag > env var (.env included) > config file > default
	if err := cfg.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, "FLATCMS_", warnf)
	if err := cfg.ApplyFile(flag.CommandLine, conf.ConfigFile, warnf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		File:            conf.LogFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"content_dir", conf.ContentDir,
		"content_ext", conf.ContentExt,
		"page_tree", conf.PageTree,
		"url_base", conf.URLBase,
		"url_mode", conf.URLMode,
		"users_file", conf.UsersFile,
		"mirror_s3_bucket", conf.MirrorS3Bucket,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.ShortCommit(),
		},
		Gauge: m,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	if err := os.MkdirAll(conf.ContentDir, 0o755); err != nil {
		L.Error(ctx, err, "cannot create content directory", "dir", conf.ContentDir)
		os.Exit(1)
	}
	contentFS := osfs.New(conf.ContentDir)

	dir, err := users.Load(conf.UsersFile)
	if err != nil {
		L.Error(ctx, err, "failed to load users", "users_file", conf.UsersFile)
		os.Exit(1)
	}
	var sessions *users.Sessions
	if conf.UsersFile != "" {
		sessions = users.NewSessions(dir, users.SessionOptions{
			Secret: []byte(conf.SessionSecret),
			Secure: strings.HasPrefix(conf.URLBase, "https://"),
		})
	} else {
		L.Info(ctx, "no users file, every request runs as Guest and the API is read-only")
	}

	storeOpts := content.StoreOptions{
		FS:       contentFS,
		Ext:      conf.ContentExt,
		Users:    dir,
		PageTree: conf.PageTree,
		Logger:   L,
		Metrics:  m,
	}
	base := urlPathBase(conf.URLBase)
	if conf.URLMode == cfg.URLModeQuery {
		storeOpts.URLs = content.QueryURLs{Base: conf.URLBase}
	} else {
		storeOpts.URLs = content.PathURLs{Base: conf.URLBase}
	}

	if conf.MirrorS3Bucket != "" {
		mr, err := mirror.New(ctx, mirror.Options{
			Logger:  L,
			Bucket:  conf.MirrorS3Bucket,
			Prefix:  conf.MirrorS3Prefix,
			Metrics: m,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create s3 mirror")
			os.Exit(1)
		}
		storeOpts.Observer = mr
	}

	// one Store per request; it caches the page set for that request only
	newStore := func(r *http.Request) *content.Store {
		return content.NewStore(storeOpts, content.NewRequestContext(r.Context(), dir, r.URL.Path))
	}

	site, err := sitehandler.New(sitehandler.Options{
		NewStore:  newStore,
		Base:      base,
		QueryURLs: conf.URLMode == cfg.URLModeQuery,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	newLimiter := func(kind string, burst int) *ratelimit.IPLimiter {
		return ratelimit.New(ctx,
			ratelimit.WithRate(conf.LoginRate, burst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// logged once per ip until the visitor entry expires
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "limiter", kind, "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted", "limiter", kind)
			}),
		)
	}

	api, err := pagesapi.New(pagesapi.Options{
		NewStore:        newStore,
		Users:           dir,
		Sessions:        sessions,
		Directory:       dir,
		MaxBody:         conf.MaxBodyBytes,
		LoginLimiter:    newLimiter("login", conf.LoginBurst),
		MutationLimiter: newLimiter("mutation", conf.LoginBurst*4),
		Metrics:         m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create pages api")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), health.ContentDir(contentFS))

	srvOpts := &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Actor: func(ctx context.Context) string {
			return dir.CurrentUser(ctx).Username
		},
		SignedIn: func(ctx context.Context) bool {
			return dir.CurrentUser(ctx) != content.GuestActor
		},
		APIRoutes:   func(r chi.Router) { api.RegisterRoutes(r) },
		SiteHandler: site,
	}
	if sessions != nil {
		srvOpts.SessionMW = sessions.Middleware
	}
	if conf.TrustedProxies > 0 {
		srvOpts.ClientIPOpts = httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxies}
	}

	siteHTTPStop, err := httpserver.Start(ctx, srvOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// ops port: metrics, probes and pprof, refused for public peers
	opsHTTPStop, err := opshttp.Start(ctx, opshttp.Options{
		Logger:       L,
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err)
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops routing before we close
	gate.Set("draining")
	L.Info(context.Background(), "draining", "period", conf.DrainPeriod)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()
	L.Info(context.Background(), "shutdown complete")
}

// urlPathBase is the path part of the configured base URL, which is what
// incoming request paths are matched against. Validate has parsed it.
func urlPathBase(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: %w", err)
	}
	return nil
}
