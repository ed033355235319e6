package boohints

import (
	"context"
	stderrors "errors"
	"path/filepath"

	"github.com/drslump/boohints/internal/errors"
	"github.com/drslump/boohints/internal/rsp"
	"github.com/drslump/boohints/internal/session"
)

// State is the lifecycle state of a session.
type State = session.State

// Session lifecycle states.
const (
	StateStopped        = session.StateStopped
	StateStarting       = session.StateStarting
	StateRunning        = session.StateRunning
	StateRestartPending = session.StateRestartPending
	StateInvalid        = session.StateInvalid
	StateClosed         = session.StateClosed
)

// Session is a handle to one hints server, identified by its executable,
// arguments, working directory and response file. The server process behind
// it comes and goes; the handle stays valid until closed or invalidated.
type Session struct {
	inner *session.Session

	bin          string
	args         []string
	dir          string
	responseFile string
}

// NewSession builds a standalone session. Most callers want Registry.Session
// instead, which shares sessions across callers with the same identity.
//
// No process is started until the first query.
func NewSession(bin string, args []string, opts ...Option) (*Session, error) {
	o := applyOptions(opts)

	rspPath, dir, err := resolvePaths(o)
	if err != nil {
		return nil, err
	}

	return newSession(bin, args, rspPath, dir, o)
}

func newSession(bin string, args []string, rspPath, dir string, o *Options) (*Session, error) {
	logger := o.Logger
	if logger == nil {
		logger = NopLogger()
	}

	inner, err := session.New(session.Config{
		Bin:               bin,
		Args:              args,
		ResponseFile:      rspPath,
		Dir:               dir,
		Env:               environSlice(o.Env),
		IdleTimeout:       o.IdleTimeout,
		QueryTimeout:      o.QueryTimeout,
		QuitGrace:         o.QuitGrace,
		TermGrace:         o.TermGrace,
		WatchResponseFile: o.WatchResponseFile,
		Logger:            logger,
		Factory:           o.Factory,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		inner:        inner,
		bin:          bin,
		args:         append([]string(nil), args...),
		dir:          dir,
		responseFile: rspPath,
	}, nil
}

// resolvePaths settles the response file and working directory from the
// options: an explicit response file wins, then discovery from the source
// file; the working directory falls back to whichever of those has one.
func resolvePaths(o *Options) (rspPath, dir string, err error) {
	rspPath = o.ResponseFile
	if rspPath == "" && o.SourceFile != "" {
		found, err := rsp.Locate(o.SourceFile)
		switch {
		case err == nil:
			rspPath = found
		case stderrors.Is(err, errors.ErrNoResponseFile):
			// Sessions work without one; the server just starts bare.
		default:
			return "", "", err
		}
	}

	dir = o.Dir
	if dir == "" {
		switch {
		case rspPath != "":
			dir = filepath.Dir(rspPath)
		case o.SourceFile != "":
			dir = filepath.Dir(o.SourceFile)
		}
	}

	return rspPath, dir, nil
}

// ID is the unique identifier of this session, stable for its lifetime.
func (s *Session) ID() string {
	return s.inner.ID()
}

// Bin reports the server executable.
func (s *Session) Bin() string {
	return s.bin
}

// Args reports the base server arguments, without the response file derived
// ones appended at spawn.
func (s *Session) Args() []string {
	return append([]string(nil), s.args...)
}

// Dir reports the working directory used for the server process.
func (s *Session) Dir() string {
	return s.dir
}

// ResponseFile reports the compiler response file backing this session, if
// any.
func (s *Session) ResponseFile() string {
	return s.responseFile
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return s.inner.State()
}

// Start brings the server up if it is not already running. Queries start it
// on demand; Start only exists to warm a session ahead of the first one.
func (s *Session) Start(ctx context.Context) error {
	return s.inner.Start(ctx)
}

// Query sends one command to the server and waits for its response. Queries
// are serialized per session; concurrent callers queue up. See Members,
// Locals, Globals and Parse for the typed variants.
func (s *Session) Query(ctx context.Context, command string, params map[string]any) (Response, error) {
	resp, err := s.inner.Query(ctx, command, params)
	if err != nil {
		return nil, err
	}

	return Response(resp), nil
}

// QueryAsync queues the query and returns immediately. Queued queries run
// one at a time in submission order; fn, if not nil, receives the outcome on
// the queue's goroutine.
func (s *Session) QueryAsync(command string, params map[string]any, fn func(Response, error)) error {
	var cb session.Callback
	if fn != nil {
		cb = func(resp map[string]any, err error) {
			if err != nil {
				fn(nil, err)

				return
			}
			fn(Response(resp), nil)
		}
	}

	return s.inner.QueryAsync(command, params, cb)
}

// Close stops the server and releases the session. Safe to call more than
// once.
func (s *Session) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
