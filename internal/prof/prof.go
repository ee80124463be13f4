// Package prof runs the pyroscope continuous profiler when enabled.
package prof

import (
	"context"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/xerrors"
)

// Gauge reports whether the profiler is running.
type Gauge interface {
	SetProfilingActive(active bool)
}

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string

	// Zero leaves the runtime defaults alone.
	ProfileMutexFraction int
	BlockProfileRate     int

	Gauge Gauge
}

// DefaultAppName is used when AppName is empty.
const DefaultAppName = "flatcms"

// profileTypes enables mutex and block profiles in addition to the
// pyroscope defaults; page reads contend on the content directory.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// config validates opts and builds the pyroscope config.
func config(opts Options) (pyroscope.Config, error) {
	if opts.ServerAddress == "" {
		return pyroscope.Config{}, xerrors.New("prof: server address is required")
	}
	name := opts.AppName
	if name == "" {
		name = DefaultAppName
	}
	cfg := pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profileTypes,
	}
	return cfg, nil
}

// Start returns a stop func that is safe to call more than once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	setGauge := func(active bool) {
		if opts.Gauge != nil {
			opts.Gauge.SetProfilingActive(active)
		}
	}

	if !opts.Enabled {
		setGauge(false)
		L.Info(ctx, "profiling disabled")
		return func() {}, nil
	}

	cfg, err := config(opts)
	if err != nil {
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		return func() {}, xerrors.Wrapf(err, "prof: start pyroscope for %s", cfg.ServerAddress)
	}
	setGauge(true)
	L.Info(ctx, "profiling started", "server_address", cfg.ServerAddress, "app_name", cfg.ApplicationName)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "pyroscope stop failed", "error", err)
			}
			setGauge(false)
			L.Info(context.Background(), "profiling stopped")
		})
	}, nil
}
