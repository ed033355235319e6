// Package dispatch runs queued work items one at a time, in order.
//
// One Dispatcher backs one session's async query queue: items are consumed
// FIFO by a single goroutine, so callbacks for a session never run
// concurrently with each other. A panicking item is recovered and logged;
// it never takes the consumer loop down with it.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/drslump/boohints/internal/errors"
)

// Dispatcher is an unbounded FIFO work queue with a single consumer.
type Dispatcher struct {
	log *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New creates a dispatcher and starts its consumer goroutine.
func New(log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		log:     log.With("component", "dispatcher"),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go d.run()

	return d
}

// Enqueue appends fn to the queue. Returns ErrDispatcherClosed after Close.
func (d *Dispatcher) Enqueue(fn func()) error {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return errors.ErrDispatcherClosed
	}

	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	return nil
}

// Pending reports how many items are queued but not yet started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.queue)
}

// Close stops the consumer and drops anything still queued. It blocks until
// the item in flight, if any, has finished. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		dropped := len(d.queue)
		d.queue = nil
		d.mu.Unlock()

		if dropped > 0 {
			d.log.Debug("dropping queued async queries", "count", dropped)
		}

		close(d.done)
	})

	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		select {
		case <-d.done:
			return
		default:
		}

		fn := d.next()
		if fn == nil {
			select {
			case <-d.wake:
			case <-d.done:
				return
			}

			continue
		}

		d.invoke(fn)
	}
}

func (d *Dispatcher) next() func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil
	}

	fn := d.queue[0]
	d.queue = d.queue[1:]

	return fn
}

// invoke runs one item, isolating panics so a failing callback cannot
// stall the queue behind it.
func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("async callback panicked", "panic", r)
		}
	}()

	fn()
}
