package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drslump/boohints/internal/errors"
	"github.com/drslump/boohints/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockTransport is a scripted stand-in for one process generation.
type mockTransport struct {
	mu      sync.Mutex
	started bool
	stopped bool
	sent    [][]byte

	startErr error
	onSend   func(m *mockTransport, line []byte)

	responses chan map[string]any
	commands  chan string
	errs      chan error
	done      chan struct{}
	doneOnce  sync.Once
	exitErr   error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(chan map[string]any, 16),
		commands:  make(chan string, 4),
		errs:      make(chan error, 4),
		done:      make(chan struct{}),
	}
}

func (m *mockTransport) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	return nil
}

func (m *mockTransport) SendLine(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), data...))
	onSend := m.onSend
	m.mu.Unlock()

	if onSend != nil {
		onSend(m, data)
	}

	return nil
}

func (m *mockTransport) Responses() <-chan map[string]any { return m.responses }
func (m *mockTransport) Commands() <-chan string          { return m.commands }
func (m *mockTransport) Errors() <-chan error             { return m.errs }
func (m *mockTransport) Done() <-chan struct{}            { return m.done }

func (m *mockTransport) ExitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.exitErr
}

func (m *mockTransport) Alive() bool {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *mockTransport) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.die(nil)

	return nil
}

// die simulates the process exiting with the given failure.
func (m *mockTransport) die(err error) {
	m.doneOnce.Do(func() {
		m.mu.Lock()
		m.exitErr = err
		m.mu.Unlock()

		close(m.done)
	})
}

func (m *mockTransport) wasStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopped
}

func (m *mockTransport) sentLines() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.sent))
	copy(out, m.sent)

	return out
}

// echoResponder answers every request with the request itself.
func echoResponder(m *mockTransport, line []byte) {
	var req map[string]any
	if err := json.Unmarshal(line, &req); err != nil {
		m.errs <- err

		return
	}

	m.responses <- req
}

// fakeFactory hands out one mock per spawn and remembers them all.
type fakeFactory struct {
	mu        sync.Mutex
	mocks     []*mockTransport
	configs   []transport.Config
	configure func(m *mockTransport, cfg transport.Config)
}

func (f *fakeFactory) new(cfg transport.Config) Transport {
	m := newMockTransport()
	if f.configure != nil {
		f.configure(m, cfg)
	}

	f.mu.Lock()
	f.mocks = append(f.mocks, m)
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()

	return m
}

func echoFactory() *fakeFactory {
	return &fakeFactory{
		configure: func(m *mockTransport, _ transport.Config) {
			m.onSend = echoResponder
		},
	}
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.mocks)
}

func (f *fakeFactory) mock(i int) *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mocks[i]
}

func (f *fakeFactory) config(i int) transport.Config {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.configs[i]
}

func newTestSession(t *testing.T, f *fakeFactory, mutate ...func(*Config)) *Session {
	t.Helper()

	cfg := Config{
		Bin:     "boohints-server",
		Logger:  testLogger(),
		Factory: f.new,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})

	return s
}

func TestNew_RequiresBin(t *testing.T) {
	_, err := New(Config{Logger: testLogger()})
	require.Error(t, err)
}

func TestNew_AssignsUniqueID(t *testing.T) {
	f := echoFactory()
	a := newTestSession(t, f)
	b := newTestSession(t, f)

	require.Len(t, a.ID(), 26)
	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, StateStopped, a.State())
}

func TestQuery_RoundTrip(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	resp, err := s.Query(context.Background(), "members", map[string]any{
		"fname":  "a.boo",
		"code":   "print",
		"offset": 5,
	})
	require.NoError(t, err)
	require.Equal(t, "members", resp["command"])
	require.Equal(t, "a.boo", resp["fname"])
	require.Equal(t, float64(5), resp["offset"])

	require.Equal(t, 1, f.count())
	require.Equal(t, StateRunning, s.State())
}

func TestStart_Idempotent(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	require.Equal(t, 1, f.count())
	require.Equal(t, StateRunning, s.State())
}

func TestQuery_StartFailureIsRetryable(t *testing.T) {
	var spawns atomic.Int32
	f := &fakeFactory{}
	f.configure = func(m *mockTransport, _ transport.Config) {
		if spawns.Add(1) == 1 {
			m.startErr = &errors.SpawnError{Bin: "boohints-server", Err: fmt.Errorf("no such file")}
		}
		m.onSend = echoResponder
	}
	s := newTestSession(t, f)

	_, err := s.Query(context.Background(), "globals", nil)
	require.Error(t, err)

	var spawnErr *errors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, StateStopped, s.State())

	resp, err := s.Query(context.Background(), "globals", nil)
	require.NoError(t, err)
	require.Equal(t, "globals", resp["command"])
	require.Equal(t, 2, f.count())
}

func TestQuery_SerializedWhileInFlight(t *testing.T) {
	var inFlight atomic.Int32
	var violations atomic.Int32

	f := &fakeFactory{}
	f.configure = func(m *mockTransport, _ transport.Config) {
		m.onSend = func(m *mockTransport, line []byte) {
			if !inFlight.CompareAndSwap(0, 1) {
				violations.Add(1)
			}

			var req map[string]any
			require.NoError(t, json.Unmarshal(line, &req))

			go func() {
				time.Sleep(50 * time.Millisecond)
				inFlight.Store(0)
				m.responses <- req
			}()
		}
	}
	s := newTestSession(t, f)

	var wg sync.WaitGroup
	for _, cmd := range []string{"members", "locals", "globals"} {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := s.Query(context.Background(), cmd, nil)
			require.NoError(t, err)
			require.Equal(t, cmd, resp["command"])
		}()
	}
	wg.Wait()

	require.Zero(t, violations.Load(), "overlapping writes reached the server")
	require.Equal(t, 1, f.count())
}

func TestIdleTimeout_StopsIdleServer(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f, func(c *Config) { c.IdleTimeout = 100 * time.Millisecond })

	_, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.mock(0).wasStopped() && s.State() == StateStopped
	}, 3*time.Second, 10*time.Millisecond)

	// A later query simply starts a fresh server.
	resp, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)
	require.Equal(t, "parse", resp["command"])
	require.Equal(t, 2, f.count())
}

func TestIdleTimeout_RefreshedByQueries(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f, func(c *Config) { c.IdleTimeout = 250 * time.Millisecond })

	for range 8 {
		_, err := s.Query(context.Background(), "parse", nil)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	require.False(t, f.mock(0).wasStopped(), "server stopped while queries kept it busy")
	require.Equal(t, 1, f.count())

	require.Eventually(t, func() bool {
		return f.mock(0).wasStopped()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServerCommand_ReferenceModifiedRestartsOnce(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	_, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)

	f.mock(0).commands <- "ReferenceModified:Extras.dll"

	require.Eventually(t, func() bool {
		return f.count() == 2 && f.mock(0).wasStopped()
	}, 3*time.Second, 10*time.Millisecond)

	// The wake query that forced the recycle is a throwaway parse.
	require.Eventually(t, func() bool {
		return len(f.mock(1).sentLines()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	var wake map[string]any
	require.NoError(t, json.Unmarshal(f.mock(1).sentLines()[0], &wake))
	require.Equal(t, "parse", wake["command"])
	require.Equal(t, "reload", wake["fname"])
	require.Equal(t, "", wake["code"])

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, f.count(), "restarted more than once")
	require.Equal(t, StateRunning, s.State())
}

func TestServerCommand_UnknownIgnored(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	_, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)

	f.mock(0).commands <- "SelfDestruct:now"

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.count())
	require.Equal(t, StateRunning, s.State())
}

func TestResponseFileChange_RestartsWithFreshArgs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proj.rsp")
	require.NoError(t, os.WriteFile(path, []byte("-r:old.dll\n"), 0o644))

	f := echoFactory()
	s := newTestSession(t, f, func(c *Config) {
		c.ResponseFile = path
		c.WatchResponseFile = true
	})

	_, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)
	require.Contains(t, f.config(0).Args, "-r:old.dll")

	require.NoError(t, os.WriteFile(path, []byte("-r:new.dll\n"), 0o644))

	// Editors can produce several notifications for one save, so the recycle
	// may run more than once here. What matters is that the fresh arguments
	// are picked up.
	require.Eventually(t, func() bool {
		return f.count() >= 2
	}, 3*time.Second, 10*time.Millisecond)

	require.Contains(t, f.config(1).Args, "-r:new.dll")
	require.NotContains(t, f.config(1).Args, "-r:old.dll")
}

func TestQuery_TimeoutLeavesLiveServerUsable(t *testing.T) {
	var respond atomic.Bool

	f := &fakeFactory{}
	f.configure = func(m *mockTransport, _ transport.Config) {
		m.onSend = func(m *mockTransport, line []byte) {
			if respond.Load() {
				echoResponder(m, line)
			}
		}
	}
	s := newTestSession(t, f, func(c *Config) { c.QueryTimeout = 50 * time.Millisecond })

	_, err := s.Query(context.Background(), "members", nil)
	require.ErrorIs(t, err, errors.ErrQueryTimeout)

	var timeoutErr *errors.QueryTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "members", timeoutErr.Command)

	require.Equal(t, StateRunning, s.State())

	respond.Store(true)
	resp, err := s.Query(context.Background(), "members", nil)
	require.NoError(t, err)
	require.Equal(t, "members", resp["command"])
	require.Equal(t, 1, f.count())
}

func TestQuery_ServerDeathInvalidatesSession(t *testing.T) {
	f := &fakeFactory{}
	f.configure = func(m *mockTransport, _ transport.Config) {
		m.onSend = func(m *mockTransport, _ []byte) {
			m.die(&errors.ProcessError{ExitCode: 9, Err: fmt.Errorf("signal: killed")})
		}
	}
	s := newTestSession(t, f)

	start := time.Now()
	_, err := s.Query(context.Background(), "members", nil)
	require.Error(t, err)

	var procErr *errors.ProcessError
	require.ErrorAs(t, err, &procErr)
	require.Equal(t, 9, procErr.ExitCode)
	require.Less(t, time.Since(start), time.Second, "death should fail the query without waiting out the timeout")

	require.Equal(t, StateInvalid, s.State())

	// Invalid is terminal: nothing restarts, the caller hears about it
	// immediately.
	_, err = s.Query(context.Background(), "members", nil)
	require.ErrorIs(t, err, errors.ErrSessionInvalid)
	require.Equal(t, 1, f.count())
}

func TestQuery_DecodeFailureLeavesSessionUsable(t *testing.T) {
	var garble atomic.Bool
	garble.Store(true)

	f := &fakeFactory{}
	f.configure = func(m *mockTransport, _ transport.Config) {
		m.onSend = func(m *mockTransport, line []byte) {
			if garble.Load() {
				m.errs <- &errors.LineDecodeError{Line: "not json", Err: fmt.Errorf("invalid character 'o'")}

				return
			}
			echoResponder(m, line)
		}
	}
	s := newTestSession(t, f)

	_, err := s.Query(context.Background(), "parse", nil)
	require.Error(t, err)

	var decodeErr *errors.LineDecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, StateRunning, s.State())

	garble.Store(false)
	resp, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)
	require.Equal(t, "parse", resp["command"])
	require.Equal(t, 1, f.count())
}

func TestQuery_RestartsAfterQuietExit(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	_, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)

	// The server exits between queries. That is not an error; the next
	// query starts a new one.
	f.mock(0).die(nil)

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)
	require.Equal(t, "parse", resp["command"])
	require.Equal(t, 2, f.count())
}

func TestQuery_UnsolicitedResponseDiscarded(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	require.NoError(t, s.Start(context.Background()))

	f.mock(0).responses <- map[string]any{"stray": true}
	time.Sleep(50 * time.Millisecond)

	resp, err := s.Query(context.Background(), "locals", nil)
	require.NoError(t, err)
	require.Equal(t, "locals", resp["command"])
	require.NotContains(t, resp, "stray")
}

func TestQueryAsync_RunsInSubmissionOrder(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	var mu sync.Mutex
	var order []float64
	var wg sync.WaitGroup

	for i := range 3 {
		wg.Add(1)
		require.NoError(t, s.QueryAsync("parse", map[string]any{"n": i}, func(resp map[string]any, err error) {
			defer wg.Done()
			require.NoError(t, err)

			mu.Lock()
			order = append(order, resp["n"].(float64))
			mu.Unlock()
		}))
	}
	wg.Wait()

	require.Equal(t, []float64{0, 1, 2}, order)
}

func TestQueryAsync_CallbackPanicDoesNotStallQueue(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	ran := make(chan struct{})

	require.NoError(t, s.QueryAsync("parse", nil, func(map[string]any, error) {
		panic("callback exploded")
	}))
	require.NoError(t, s.QueryAsync("parse", nil, func(map[string]any, error) {
		close(ran)
	}))

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("queue stalled behind a panicking callback")
	}
}

func TestClose_StopsServerAndRejectsQueries(t *testing.T) {
	f := echoFactory()
	s := newTestSession(t, f)

	_, err := s.Query(context.Background(), "parse", nil)
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.True(t, f.mock(0).wasStopped())
	require.Equal(t, StateClosed, s.State())

	_, err = s.Query(context.Background(), "parse", nil)
	require.ErrorIs(t, err, errors.ErrSessionClosed)

	err = s.QueryAsync("parse", nil, nil)
	require.ErrorIs(t, err, errors.ErrSessionClosed)

	require.NoError(t, s.Close(context.Background()))
}

func TestState_Strings(t *testing.T) {
	names := map[State]string{
		StateStopped:        "stopped",
		StateStarting:       "starting",
		StateRunning:        "running",
		StateRestartPending: "restart_pending",
		StateInvalid:        "invalid",
		StateClosed:         "closed",
	}
	for state, want := range names {
		require.Equal(t, want, state.String())
	}
	require.Equal(t, "unknown", State(99).String())
}
