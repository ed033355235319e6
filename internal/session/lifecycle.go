package session

import (
	"context"
	"strings"
	"time"

	"github.com/drslump/boohints/internal/errors"
	"github.com/drslump/boohints/internal/rsp"
	"github.com/drslump/boohints/internal/transport"
)

// referenceModifiedPrefix marks the server command sent when a referenced
// assembly was rebuilt. The server keeps stale metadata loaded until it is
// recycled, so the command schedules a restart.
const referenceModifiedPrefix = "ReferenceModified:"

// wakeCommand is the throwaway query dispatched after a restart is
// scheduled. Its only job is to make the recycle happen promptly instead of
// waiting for the next real query.
const wakeCommand = "parse"

// ensureStarted makes sure a live process is behind s.tr. Callers hold qmu.
func (s *Session) ensureStarted(ctx context.Context) error {
	switch s.State() {
	case StateClosed:
		return errors.ErrSessionClosed

	case StateInvalid:
		return errors.ErrSessionInvalid

	case StateRestartPending:
		s.log.Info("recycling hints server")
		s.stopProcess()

	case StateRunning:
		s.mu.Lock()
		tr := s.tr
		s.mu.Unlock()

		if tr != nil && tr.Alive() {
			return nil
		}

		// The process died without a query waiting on it. Reap the stale
		// handle and start over.
		s.stopProcess()
	}

	return s.spawn(ctx)
}

// stopProcess tears down the current process, if any, and settles the
// session in the stopped state. Callers hold qmu.
func (s *Session) stopProcess() {
	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	if tr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		_ = tr.Stop(ctx)
	}

	s.settle(StateStopped)
}

// spawn starts a fresh process generation. Callers hold qmu.
func (s *Session) spawn(ctx context.Context) error {
	s.setState(StateStarting)

	args := append([]string(nil), s.cfg.Args...)
	if s.cfg.ResponseFile != "" {
		extra, err := rsp.Args(s.cfg.ResponseFile)
		if err != nil {
			s.setState(StateStopped)
			s.log.Error("cannot read response file", "path", s.cfg.ResponseFile, "error", err)

			return err
		}

		args = append(args, extra...)
	}

	tr := s.cfg.Factory(transport.Config{
		Bin:       s.cfg.Bin,
		Args:      args,
		Dir:       s.cfg.Dir,
		Env:       s.cfg.Env,
		Logger:    s.log,
		QuitGrace: s.cfg.QuitGrace,
		TermGrace: s.cfg.TermGrace,
	})

	if err := tr.Start(ctx); err != nil {
		s.setState(StateStopped)
		s.log.Error("cannot start hints server", "bin", s.cfg.Bin, "error", err)

		return err
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.tr = tr
	s.mu.Unlock()

	s.touch()
	s.setState(StateRunning)
	s.log.Info("hints server started", "bin", s.cfg.Bin, "dir", s.cfg.Dir)

	go s.consume(gen, tr)
	go s.watchIdle(gen, tr)

	return nil
}

// watchIdle stops the server once it has sat unused for the idle timeout.
// One instance runs per process generation and exits with its process, so a
// stopped session carries no ticking timers.
func (s *Session) watchIdle(gen uint64, tr Transport) {
	timer := time.NewTimer(s.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-tr.Done():
			return

		case <-s.closed:
			return

		case <-timer.C:
			idle := time.Since(s.lastUsed())
			if idle >= s.cfg.IdleTimeout && s.tryIdleStop(gen) {
				return
			}

			// A query moved the deadline while the timer fired. Sleep out
			// the remainder.
			wait := s.cfg.IdleTimeout - time.Since(s.lastUsed())
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			timer.Reset(wait)
		}
	}
}

// tryIdleStop stops the server unless a query got in first. Taking qmu
// excludes running queries; the recheck catches deadline refreshes that
// happened while we waited for the lock.
func (s *Session) tryIdleStop(gen uint64) bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if time.Since(s.lastUsed()) < s.cfg.IdleTimeout {
		return false
	}

	s.mu.Lock()
	current := s.gen == gen && s.tr != nil
	s.mu.Unlock()

	if !current {
		return true
	}

	s.log.Info("hints server idle, stopping", "idle_timeout", s.cfg.IdleTimeout)
	s.stopProcess()

	return true
}

// handleServerCommand reacts to #! lines from the server.
func (s *Session) handleServerCommand(cmd string) {
	if ref, ok := strings.CutPrefix(cmd, referenceModifiedPrefix); ok {
		s.log.Info("referenced assembly changed", "reference", ref)
		s.scheduleRestart()

		return
	}

	s.log.Warn("unsupported server command", "command", cmd)
}

func (s *Session) onResponseFileChanged() {
	s.log.Info("response file changed", "path", s.cfg.ResponseFile)
	s.scheduleRestart()
}

// scheduleRestart flags the session for a recycle and queues a no-op query
// so the restart happens now rather than at the next user keystroke.
func (s *Session) scheduleRestart() {
	s.transition(StateRunning, StateRestartPending)

	err := s.dispatcher.Enqueue(func() {
		_, _ = s.Query(context.Background(), wakeCommand, map[string]any{
			"fname": "reload",
			"code":  "",
		})
	})
	if err != nil {
		s.log.Debug("skipping restart wake query", "error", err)
	}
}
