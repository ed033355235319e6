package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/drslump/boohints/internal/errors"
)

// queryResult is what the consumer goroutine hands to the waiting query:
// either a decoded response or the error that stands in for one.
type queryResult struct {
	msg map[string]any
	err error
}

// Callback receives the outcome of an async query. Exactly one of resp and
// err is set.
type Callback func(resp map[string]any, err error)

// Query sends one request and waits for the single response line. The whole
// round trip is serialized: concurrent callers queue up behind the broker
// lock, and an on-demand start happens under the same lock.
//
// A timeout with the process still alive leaves the session usable. A
// timeout with the process gone, or the process dying mid-query, marks the
// session invalid.
func (s *Session) Query(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	select {
	case <-s.closed:
		return nil, errors.ErrSessionClosed
	default:
	}

	s.qmu.Lock()
	defer s.qmu.Unlock()

	switch s.State() {
	case StateClosed:
		return nil, errors.ErrSessionClosed
	case StateInvalid:
		s.log.Error("query rejected, session is invalid", "query", command)

		return nil, errors.ErrSessionInvalid
	}

	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}

	s.touch()

	payload, err := encodeQuery(command, params)
	if err != nil {
		s.log.Error("cannot encode query", "query", command, "error", err)

		return nil, fmt.Errorf("encode query %q: %w", command, err)
	}

	s.mu.Lock()
	tr := s.tr
	if tr == nil {
		// The process died between the start and here; the exit handler
		// already reaped it.
		s.mu.Unlock()
		err := &errors.ProcessError{Err: io.ErrUnexpectedEOF}
		s.log.Error("hints server died before query was sent", "query", command, "error", err)

		return nil, err
	}

	pend := make(chan queryResult, 1)
	s.pending = pend
	s.mu.Unlock()

	if err := s.send(ctx, tr, payload); err != nil {
		s.clearPending()
		s.log.Error("cannot send query", "query", command, "error", err)

		return nil, err
	}

	timer := time.NewTimer(s.cfg.QueryTimeout)
	defer timer.Stop()

	select {
	case res := <-pend:
		return s.finish(command, res)

	case <-tr.Done():
		// The response and the exit may race; a response that made it out
		// before the process died still counts.
		if res, ok := s.takeDelivered(pend); ok {
			return s.finish(command, res)
		}

		err := tr.ExitErr()
		if err == nil {
			err = &errors.ProcessError{Err: io.ErrUnexpectedEOF}
		}
		s.log.Error("hints server died during query", "query", command, "error", err)
		s.invalidate(command)

		return nil, err

	case <-timer.C:
		s.clearPending()
		alive := tr.Alive()
		s.log.Error("query timed out", "query", command, "timeout", s.cfg.QueryTimeout, "alive", alive)
		if !alive {
			s.invalidate(command)
		}

		return nil, &errors.QueryTimeoutError{Command: command, Timeout: s.cfg.QueryTimeout}

	case <-ctx.Done():
		s.clearPending()

		return nil, ctx.Err()

	case <-s.closed:
		s.clearPending()

		return nil, errors.ErrSessionClosed
	}
}

// QueryAsync queues the query for the session's dispatcher goroutine, which
// runs queued queries one at a time in submission order. fn, if not nil, is
// invoked from that goroutine with the outcome.
func (s *Session) QueryAsync(command string, params map[string]any, fn Callback) error {
	select {
	case <-s.closed:
		return errors.ErrSessionClosed
	default:
	}

	err := s.dispatcher.Enqueue(func() {
		resp, err := s.Query(context.Background(), command, params)
		if fn != nil {
			fn(resp, err)
		}
	})
	if err != nil {
		return errors.ErrSessionClosed
	}

	return nil
}

func (s *Session) finish(command string, res queryResult) (map[string]any, error) {
	if res.err != nil {
		s.log.Error("query failed", "query", command, "error", res.err)

		return nil, res.err
	}

	s.touch()

	return res.msg, nil
}

// send writes the payload, bailing out early if the session closes while the
// write is blocked on a full pipe.
func (s *Session) send(ctx context.Context, tr Transport, payload []byte) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	unblocked := make(chan struct{})
	defer close(unblocked)

	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-unblocked:
		}
	}()

	return tr.SendLine(sendCtx, payload)
}

func encodeQuery(command string, params map[string]any) ([]byte, error) {
	req := make(map[string]any, len(params)+1)
	maps.Copy(req, params)
	req["command"] = command

	return json.Marshal(req)
}

// consume routes transport output for one process generation. It exits when
// the process does.
func (s *Session) consume(gen uint64, tr Transport) {
	for {
		select {
		case msg := <-tr.Responses():
			s.deliver(gen, queryResult{msg: msg})

		case cmd := <-tr.Commands():
			s.handleServerCommand(cmd)

		case err := <-tr.Errors():
			s.deliver(gen, queryResult{err: err})

		case <-tr.Done():
			s.drain(gen, tr)
			s.onExit(gen, tr)

			return

		case <-s.closed:
			return
		}
	}
}

// drain flushes whatever the readers buffered before the process exited, so
// a response that beat the exit still reaches its query.
func (s *Session) drain(gen uint64, tr Transport) {
	for {
		select {
		case msg := <-tr.Responses():
			s.deliver(gen, queryResult{msg: msg})
		case cmd := <-tr.Commands():
			s.handleServerCommand(cmd)
		case err := <-tr.Errors():
			s.deliver(gen, queryResult{err: err})
		default:
			return
		}
	}
}

// deliver hands a result to the pending query, if one is waiting and the
// generations match. Anything else is logged and dropped.
func (s *Session) deliver(gen uint64, res queryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.pending == nil {
		if res.err != nil {
			s.log.Warn("discarding transport error, no query waiting", "error", res.err)
		} else {
			s.log.Warn("discarding unsolicited response")
		}

		return
	}

	pend := s.pending
	s.pending = nil
	pend <- res
}

// takeDelivered claims a result that deliver published concurrently with the
// process exit. If the pending slot is still armed nothing was delivered,
// and clearing it keeps late arrivals from leaking into the next query.
func (s *Session) takeDelivered(pend chan queryResult) (queryResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.pending = nil

		return queryResult{}, false
	}

	select {
	case res := <-pend:
		return res, true
	default:
		return queryResult{}, false
	}
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// onExit records that the current process is gone. Intentional stops clear
// the handle before stopping, so reaching here with the handle still set
// means the process died on its own.
func (s *Session) onExit(gen uint64, tr Transport) {
	s.mu.Lock()
	current := s.gen == gen && s.tr != nil
	if current {
		s.tr = nil
	}
	s.mu.Unlock()

	if !current {
		return
	}

	if err := tr.ExitErr(); err != nil {
		s.log.Warn("hints server died", "error", err)
	} else {
		s.log.Info("hints server exited")
	}

	s.settle(StateStopped)
}
