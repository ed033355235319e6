package session

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drslump/boohints/internal/dispatch"
	"github.com/drslump/boohints/internal/errors"
	"github.com/drslump/boohints/internal/rsp"
)

var errEmptyBin = stderrors.New("session: server executable required")

const (
	// DefaultIdleTimeout is how long a server may sit unused before it is
	// stopped. The next query starts it again.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultQueryTimeout bounds the wait for a single response line.
	DefaultQueryTimeout = 3 * time.Second

	// stopTimeout bounds process teardown triggered from background
	// goroutines, which have no caller context to inherit.
	stopTimeout = 10 * time.Second
)

// Config carries the resolved identity and tuning of a session. Bin is
// required; everything else has a usable zero value.
type Config struct {
	// Bin is the hints server executable.
	Bin string

	// Args are the base arguments. Arguments derived from the response file
	// are appended at every start, so a recycled server picks up reference
	// changes.
	Args []string

	// ResponseFile is the compiler response file backing this session, if
	// any. It contributes spawn arguments and, via watching, restarts.
	ResponseFile string

	// Dir is the working directory for the child process.
	Dir string

	// Env is the child environment, nil meaning inherit.
	Env []string

	IdleTimeout  time.Duration
	QueryTimeout time.Duration
	QuitGrace    time.Duration
	TermGrace    time.Duration

	// WatchResponseFile recycles the server when the response file changes
	// on disk, without waiting for the server to notice.
	WatchResponseFile bool

	Logger  *slog.Logger
	Factory Factory
}

// Session brokers queries to one hints server process.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	// qmu serializes queries end to end: on-demand start, write, and the
	// wait for the response all happen under it.
	qmu sync.Mutex

	// mu guards the process handle and the pending response slot.
	mu      sync.Mutex
	tr      Transport
	gen     uint64
	pending chan queryResult

	state     atomic.Int32
	lastUsage atomic.Int64

	dispatcher *dispatch.Dispatcher
	watcher    *rsp.Watcher

	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a session. No process is started until the first query.
func New(cfg Config) (*Session, error) {
	if cfg.Bin == "" {
		return nil, errEmptyBin
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Factory == nil {
		cfg.Factory = defaultFactory
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	s := &Session{
		id:         ulid.Make().String(),
		cfg:        cfg,
		dispatcher: dispatch.New(cfg.Logger),
		closed:     make(chan struct{}),
	}
	s.log = cfg.Logger.With("component", "session", "session_id", s.id)
	s.touch()

	if cfg.WatchResponseFile && cfg.ResponseFile != "" {
		w, err := rsp.Watch(cfg.ResponseFile, s.log, s.onResponseFileChanged)
		if err != nil {
			s.log.Warn("cannot watch response file", "path", cfg.ResponseFile, "error", err)
		} else {
			s.watcher = w
		}
	}

	return s, nil
}

// ID is the unique identifier of this session, stable for its lifetime.
func (s *Session) ID() string {
	return s.id
}

// ResponseFile reports the response file backing this session, if any.
func (s *Session) ResponseFile() string {
	return s.cfg.ResponseFile
}

// Dir reports the working directory used for the server process.
func (s *Session) Dir() string {
	return s.cfg.Dir
}

// Start brings the server up if it is not already running. Queries do this
// on demand; Start only exists to warm a session ahead of the first one.
func (s *Session) Start(ctx context.Context) error {
	select {
	case <-s.closed:
		return errors.ErrSessionClosed
	default:
	}

	s.qmu.Lock()
	defer s.qmu.Unlock()

	return s.ensureStarted(ctx)
}

// Close stops the server, the response file watcher and the async queue.
// Queries in flight fail with ErrSessionClosed. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error

	s.closeOnce.Do(func() {
		s.log.Debug("closing session")
		close(s.closed)

		s.qmu.Lock()
		s.setState(StateClosed)
		s.mu.Lock()
		tr := s.tr
		s.tr = nil
		s.pending = nil
		s.mu.Unlock()
		s.qmu.Unlock()

		if s.watcher != nil {
			_ = s.watcher.Close()
		}

		if tr != nil {
			err = tr.Stop(ctx)
		}

		s.dispatcher.Close()
	})

	return err
}

func (s *Session) touch() {
	s.lastUsage.Store(time.Now().UnixNano())
}

func (s *Session) lastUsed() time.Time {
	return time.Unix(0, s.lastUsage.Load())
}
