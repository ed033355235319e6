package boohints

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/drslump/boohints/internal/errors"
)

// Registry pools sessions by identity, so every caller editing the same
// project talks to the same server process.
type Registry struct {
	log      *slog.Logger
	defaults []Option

	mu       sync.RWMutex
	sessions map[sessionKey]*Session
	closed   bool
}

// sessionKey is the pooling identity: same executable, arguments, working
// directory and response file means same session.
type sessionKey struct {
	bin  string
	args string
	dir  string
	rsp  string
}

func newSessionKey(bin string, args []string, dir, rspPath string) sessionKey {
	return sessionKey{
		bin:  bin,
		args: strings.Join(args, "\x1f"),
		dir:  dir,
		rsp:  rspPath,
	}
}

// NewRegistry builds an empty registry. The given options become defaults
// for every session it creates; per-call options passed to Session are
// applied on top.
func NewRegistry(defaults ...Option) *Registry {
	o := applyOptions(defaults)

	logger := o.Logger
	if logger == nil {
		logger = NopLogger()
	}

	return &Registry{
		log:      logger.With("component", "registry"),
		defaults: defaults,
		sessions: make(map[sessionKey]*Session),
	}
}

// Session returns the pooled session for the given identity, creating it on
// first use. Identity is resolved from the options before pooling, so two
// source files governed by the same response file share a session.
func (r *Registry) Session(bin string, args []string, opts ...Option) (*Session, error) {
	merged := make([]Option, 0, len(r.defaults)+len(opts))
	merged = append(merged, r.defaults...)
	merged = append(merged, opts...)
	o := applyOptions(merged)

	rspPath, dir, err := resolvePaths(o)
	if err != nil {
		return nil, err
	}

	key := newSessionKey(bin, args, dir, rspPath)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()

		return nil, errors.ErrRegistryClosed
	}
	if s, ok := r.sessions[key]; ok {
		r.mu.RUnlock()

		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.ErrRegistryClosed
	}
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}

	s, err := newSession(bin, args, rspPath, dir, o)
	if err != nil {
		return nil, err
	}

	r.sessions[key] = s
	r.log.Debug("session created",
		"session_id", s.ID(), "bin", bin, "dir", dir, "rsp", rspPath)

	return s, nil
}

// Len reports how many sessions the registry currently holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Drop removes the session from the pool and closes it. A later Session call
// with the same identity builds a fresh one; this is the recovery path for a
// session gone invalid.
func (r *Registry) Drop(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}

	key := newSessionKey(s.bin, s.args, s.dir, s.responseFile)

	r.mu.Lock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	return s.Close(ctx)
}

// ResetAll closes every pooled session and empties the pool. The registry
// stays usable; the next Session call starts from scratch.
func (r *Registry) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[sessionKey]*Session)
	r.mu.Unlock()

	if len(sessions) == 0 {
		return nil
	}

	r.log.Info("resetting all sessions", "count", len(sessions))

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			return s.Close(ctx)
		})
	}

	return g.Wait()
}

// Close resets the pool and refuses further sessions. Safe to call more than
// once.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return r.ResetAll(ctx)
}
