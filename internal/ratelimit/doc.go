// Package ratelimit limits requests per client IP with an in-memory token
// bucket per address.
//
// The server wraps the login and page mutation endpoints with it so a
// single address cannot brute-force passwords or churn the content
// directory. Page reads are not limited. State is per process and is not
// shared between instances.
package ratelimit
