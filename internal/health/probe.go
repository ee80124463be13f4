package health

import (
	"context"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/keithlinneman/flatcms/internal/xerrors"
)

// Probe is evaluated on every probe request; a non-nil error is the
// reason the check failed.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes; returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ContentDir fails while the root of fsys cannot be listed. Pages are read
// from disk on every request, so an unreadable directory means every page
// request would fail too.
func ContentDir(fsys billy.Filesystem) CheckFunc {
	return func(context.Context) error {
		if _, err := fsys.ReadDir("/"); err != nil {
			return xerrors.Wrapf(err, "content: cannot list %s", fsys.Root())
		}
		return nil
	}
}

// ShutdownGate fails readiness once Set is called, so load balancers
// drain the instance before the listeners close. The zero value is open.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate; an empty reason reads as "draining".
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() { g.reason.Store(nil) }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
