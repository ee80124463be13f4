// Package content turns a directory of front-matter text files into an
// addressable, per-actor filtered collection of pages.
//
// The core components are:
//   - [Discover]: recursive listing of content files, ordered parent-first
//   - [ParseMeta]: front matter extraction and normalization
//   - [IdentityFor] / [ResolveConflicts]: path-derived page ids
//   - [Filter]: per-actor visibility with private-folder propagation
//   - [BuildTree]: optional parent/child index over the visible pages
//   - [Store]: the request-scoped page manager with create/edit/delete
//
// A Store is built for one processing cycle (one HTTP request or one CLI
// run). Nothing is cached across cycles; the filesystem is the only
// persisted state.
package content
