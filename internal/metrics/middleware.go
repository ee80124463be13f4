package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type routeCtxKey struct{}

// unmatchedRoute keeps raw request paths out of label values.
const unmatchedRoute = "unmatched"

// WithRoute names the route for requests that never reach the chi router,
// such as the admin mux.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeCtxKey{}, route)
}

// Middleware records inflight requests, totals by status, latency,
// response size and 5xx errors. Labels are method and route pattern only.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// chi fills the pattern into an existing route context, so one
		// created here is still readable after next returns.
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		snoop := httpsnoop.CaptureMetrics(next, w, r)
		m.inflight.Dec()

		method, route := r.Method, routeOf(r)
		m.reqTotal.WithLabelValues(method, route, strconv.Itoa(snoop.Code)).Inc()
		if snoop.Code >= http.StatusInternalServerError {
			m.errorsTotal.WithLabelValues(method, route).Inc()
		}
		observe(m.reqDur.WithLabelValues(method, route), snoop.Duration.Seconds(), traceExemplar(r.Context()))
		m.respBytes.WithLabelValues(method, route).Observe(float64(snoop.Written))
	})
}

func observe(obs prometheus.Observer, v float64, ex prometheus.Labels) {
	if eo, ok := obs.(prometheus.ExemplarObserver); ok && ex != nil {
		eo.ObserveWithExemplar(v, ex)
		return
	}
	obs.Observe(v)
}

// routeOf prefers the chi pattern, then a WithRoute annotation.
func routeOf(r *http.Request) string {
	ctx := r.Context()
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	if s, ok := ctx.Value(routeCtxKey{}).(string); ok && s != "" {
		return s
	}
	return unmatchedRoute
}

// traceExemplar links a latency sample to its trace when the request
// was sampled.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
