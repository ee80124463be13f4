package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/keithlinneman/flatcms/internal/log"
)

type App struct {
	ConfigFile      string
	ContentDir      string
	ContentExt      string
	PageTree        bool
	URLBase         string
	URLMode         string
	UsersFile       string
	SessionSecret   string
	MirrorS3Bucket  string
	MirrorS3Prefix  string
	LogFile         string
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	TrustedProxies  int
	DrainPeriod     time.Duration
	AdminPort       int
	MaxBodyBytes    int64
	LoginRate       float64
	LoginBurst      int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// URL modes accepted by -url-mode.
const (
	URLModePath  = "path"
	URLModeQuery = "query"
)

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "optional TOML config file; keys are flag names")
	fs.StringVar(&c.ContentDir, "content-dir", "content", "directory holding the page files")
	fs.StringVar(&c.ContentExt, "content-ext", ".md", "page file extension")
	fs.BoolVar(&c.PageTree, "page-tree", false, "build the parent/child page tree on every read")
	fs.StringVar(&c.URLBase, "url-base", "/", "base URL pages are served under")
	fs.StringVar(&c.URLMode, "url-mode", URLModePath, "path (base/a/b) or query (base?a/b) page URLs")
	fs.StringVar(&c.UsersFile, "users-file", "", "JSON users file; empty means everyone is Guest")
	fs.StringVar(&c.SessionSecret, "session-secret", "", "session cookie signing key (32+ bytes)")
	fs.StringVar(&c.MirrorS3Bucket, "mirror-s3-bucket", "", "s3 bucket to mirror page writes and deletes to")
	fs.StringVar(&c.MirrorS3Prefix, "mirror-s3-prefix", "", "key prefix inside mirror-s3-bucket")
	fs.StringVar(&c.LogFile, "log-file", "", "also append logs to this file")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedProxies, "trusted-proxies", 0, "reverse proxies in front of http-port whose X-Forwarded-For is trusted")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 15*time.Second, "how long readiness fails before shutdown")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "request body limit for the pages API")
	fs.Float64Var(&c.LoginRate, "login-rate", 0.2, "login and mutation requests per second per client ip")
	fs.IntVar(&c.LoginBurst, "login-burst", 5, "burst for login-rate")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set are never overwritten.
func LoadDotEnv(paths ...string) error {
	var found []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil
	}
	if err := godotenv.Load(found...); err != nil {
		return fmt.Errorf("load env files %v: %w", found, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			// restore through Value so the flag is not marked as set
			_ = f.Value.Set(prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// ApplyFile fills flags that neither the CLI nor the environment set from
// a TOML file. Keys are flag names; underscores are accepted for dashes.
// Precedence: cli flag > env var > file > default.
func ApplyFile(fs *flag.FlagSet, path string, logf func(string, ...any)) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := toml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []error
	for k, v := range values {
		name := strings.ReplaceAll(k, "_", "-")
		f := fs.Lookup(name)
		if f == nil {
			errs = append(errs, fmt.Errorf("config file %s: unknown key %q", path, k))
			continue
		}
		if set[name] {
			if logf != nil {
				logf("flag -%s: cli/env value %q overrides config file", name, f.Value.String())
			}
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			errs = append(errs, fmt.Errorf("config file %s: key %q must be a scalar", path, k))
			continue
		}
		if err := fs.Set(name, fmt.Sprint(v)); err != nil {
			errs = append(errs, fmt.Errorf("config file %s: key %q: %w", path, k, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Content
	if c.ContentDir == "" {
		errs = append(errs, fmt.Errorf("CONTENT_DIR is required"))
	}
	if !strings.HasPrefix(c.ContentExt, ".") || len(c.ContentExt) < 2 || strings.Contains(c.ContentExt, "/") {
		errs = append(errs, fmt.Errorf("invalid CONTENT_EXT %q (want e.g. .md)", c.ContentExt))
	}
	if c.URLMode != URLModePath && c.URLMode != URLModeQuery {
		errs = append(errs, fmt.Errorf("invalid URL_MODE %q (must be path or query)", c.URLMode))
	}
	if _, err := url.Parse(c.URLBase); err != nil {
		errs = append(errs, fmt.Errorf("invalid URL_BASE %q: %w", c.URLBase, err))
	}

	// Users and sessions
	if c.UsersFile != "" && len(c.SessionSecret) < 32 {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least 32 bytes when USERS_FILE is set"))
	}

	// Mirror
	if c.MirrorS3Prefix != "" && c.MirrorS3Bucket == "" {
		errs = append(errs, fmt.Errorf("MIRROR_S3_PREFIX set without MIRROR_S3_BUCKET"))
	}

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedProxies < 0 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_PROXIES %d (must be >= 0)", c.TrustedProxies))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_PERIOD %s (must be >= 0)", c.DrainPeriod))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be > 0)", c.MaxBodyBytes))
	}
	if c.LoginRate <= 0 || c.LoginBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid LOGIN_RATE %.3f / LOGIN_BURST %d (both must be > 0)", c.LoginRate, c.LoginBurst))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
