package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/flatcms/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	profilingActive        prometheus.Gauge

	// content store
	readCycles    prometheus.Counter
	readDuration  prometheus.Histogram
	pages         prometheus.Gauge
	parseErrors   prometheus.Counter
	mutations     *prometheus.CounterVec
	mirrorErrors  *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + HTTP and content metrics.
// HTTP labels are limited to method, route pattern and status.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times the rate limiter evicted a client to stay within capacity",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		readCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_read_cycles_total",
			Help: "Total full reads of the content directory",
		}),
		readDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "content_read_duration_seconds",
			Help:    "Time to discover, parse and filter all pages",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		pages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_pages",
			Help: "Pages visible after the most recent read",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_parse_errors_total",
			Help: "Total pages whose front matter failed to parse",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_mutations_total",
			Help: "Total create/edit/delete operations by result",
		}, []string{"op", "result"}),
		mirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_mirror_errors_total",
			Help: "Total failed S3 mirror operations by op",
		}, []string{"op"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total login attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.readCycles,
		m.readDuration,
		m.pages,
		m.parseErrors,
		m.mutations,
		m.mirrorErrors,
		m.loginAttempts,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// ObserveReadCycle implements content.StoreMetrics.
func (m *ServerMetrics) ObserveReadCycle(seconds float64, pages int) {
	m.readCycles.Inc()
	m.readDuration.Observe(seconds)
	m.pages.Set(float64(pages))
}

// IncParseError implements content.StoreMetrics.
func (m *ServerMetrics) IncParseError() {
	m.parseErrors.Inc()
}

// IncMutation implements content.StoreMetrics.
func (m *ServerMetrics) IncMutation(op, result string) {
	m.mutations.WithLabelValues(op, result).Inc()
}

// IncMirrorError is called by the S3 mirror; op is "put" or "delete".
func (m *ServerMetrics) IncMirrorError(op string) {
	m.mirrorErrors.WithLabelValues(op).Inc()
}

// IncLogin counts a login attempt; result is "ok", "denied" or "limited".
func (m *ServerMetrics) IncLogin(result string) {
	m.loginAttempts.WithLabelValues(result).Inc()
}
