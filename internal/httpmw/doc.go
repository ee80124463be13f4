// Package httpmw provides HTTP middleware for the site listener.
//
// httpserver.NewHandler composes it outermost first: security headers,
// recovery, request ID, client IP, rate limiting, tracing, trace headers,
// metrics, request-scoped logging, sessions, cache headers and the chi
// router with route annotation and access logs.
//
// Query strings and user agents stay out of access logs. The actor name
// is logged since every mutation is attributed to one.
package httpmw
