package boohints

import (
	"log/slog"
	"os"
	"time"

	"github.com/drslump/boohints/internal/session"
)

// Option configures Options using the functional options pattern.
// The same options are accepted by NewSession, NewRegistry and
// Registry.Session; registry-level options act as defaults for every
// session the registry creates.
type Option func(*Options)

// Options collects the configuration of a session.
type Options struct {
	// Logger receives structured logs. Nil means silent operation.
	Logger *slog.Logger

	// ResponseFile pins the compiler response file. When empty it is
	// discovered by walking up from SourceFile.
	ResponseFile string

	// SourceFile is the file being edited. It drives response file
	// discovery and the working directory fallback.
	SourceFile string

	// Dir is the working directory for the server process. When empty the
	// response file's directory is used, then the source file's.
	Dir string

	// Env adds environment variables to the server process.
	Env map[string]string

	// IdleTimeout stops a server that has sat unused this long.
	IdleTimeout time.Duration

	// QueryTimeout bounds the wait for a single response.
	QueryTimeout time.Duration

	// QuitGrace and TermGrace tune shutdown escalation: how long to wait
	// after the quit request and after SIGTERM before moving on.
	QuitGrace time.Duration
	TermGrace time.Duration

	// WatchResponseFile recycles the server when the response file changes
	// on disk.
	WatchResponseFile bool

	// Factory overrides how process transports are built. Tests use it to
	// run sessions against doubles.
	Factory session.Factory
}

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithResponseFile pins the compiler response file for the session instead
// of discovering one near the source file.
func WithResponseFile(path string) Option {
	return func(o *Options) {
		o.ResponseFile = path
	}
}

// WithSourceFile names the file being edited. The nearest *.rsp up its
// directory tree becomes the session's response file.
func WithSourceFile(path string) Option {
	return func(o *Options) {
		o.SourceFile = path
	}
}

// WithWorkingDir sets the working directory for the server process.
func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// WithEnv provides additional environment variables for the server process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Env = env
	}
}

// ===== Timeouts =====

// WithIdleTimeout stops a server that has gone unused for the given
// duration. The next query starts a fresh one.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = timeout
	}
}

// WithQueryTimeout bounds how long a query waits for its response.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.QueryTimeout = timeout
	}
}

// WithStopGrace tunes shutdown escalation: quit is how long to wait after
// the quit request, term how long after SIGTERM, before escalating further.
func WithStopGrace(quit, term time.Duration) Option {
	return func(o *Options) {
		o.QuitGrace = quit
		o.TermGrace = term
	}
}

// ===== Restarts =====

// WithWatchResponseFile recycles the server whenever the response file
// changes on disk, without waiting for the server to announce it.
func WithWatchResponseFile(watch bool) Option {
	return func(o *Options) {
		o.WatchResponseFile = watch
	}
}

// ===== Advanced =====

// WithTransportFactory injects a custom transport factory.
// Tests use this to script the server side of a session.
func WithTransportFactory(factory session.Factory) Option {
	return func(o *Options) {
		o.Factory = factory
	}
}

// environSlice merges extra variables over the current environment, in the
// form exec.Cmd expects.
func environSlice(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}

	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}

	return env
}
