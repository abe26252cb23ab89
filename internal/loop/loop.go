package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by Run and Drain after Stop.
var ErrStopped = errors.New("loop stopped")

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Work runs off the loop. It returns the continuation to run on the loop
// once it finishes, or nil.
type Work func(ctx context.Context) Task

// Loop is an unbounded FIFO of tasks drained by one goroutine.
//
// Post and Go may be called from any goroutine. Run and Drain must not be
// called concurrently with each other.
type Loop struct {
	mu       sync.Mutex
	tasks    []Task
	inflight int
	stopped  bool
	signal   chan struct{}

	clock *Clock
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the sequence clock. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// New creates an idle loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
		clock:  NewClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock returns the loop's sequence clock.
func (l *Loop) Clock() *Clock { return l.clock }

// Post queues fn. It reports false once the loop is stopped.
func (l *Loop) Post(fn Task) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.wake()
	return true
}

// Go runs work on a new goroutine and posts its continuation. The loop
// counts the work as in flight until the continuation is queued, so Drain
// waits for it.
func (l *Loop) Go(ctx context.Context, work Work) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.inflight++
	l.mu.Unlock()

	go func() {
		var cont Task
		defer func() {
			if r := recover(); r != nil {
				slog.Error("loop work panicked", "panic", r)
				cont = nil
			}
			l.finish(cont)
		}()
		cont = work(ctx)
	}()
	return true
}

func (l *Loop) finish(cont Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight--
	if cont != nil && !l.stopped {
		l.tasks = append(l.tasks, cont)
	}
	l.wake()
}

// wake must be called with mu held.
func (l *Loop) wake() {
	if l.stopped {
		return
	}
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks and in-flight work items.
func (l *Loop) Pending() (tasks, inflight int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks), l.inflight
}

// Stop rejects further posts and makes Run and Drain return. Queued tasks
// are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.tasks = nil
	close(l.signal)
}

func (l *Loop) next() (Task, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, false, true
	}
	if len(l.tasks) == 0 {
		return nil, l.inflight == 0, false
	}
	t := l.tasks[0]
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return t, false, false
}

// Run executes tasks until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		t, _, stopped := l.next()
		if stopped {
			return ErrStopped
		}
		if t != nil {
			t()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		}
	}
}

// Drain executes tasks until the queue is empty and no work is in flight.
func (l *Loop) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, idle, stopped := l.next()
		if stopped {
			return ErrStopped
		}
		if t != nil {
			t()
			continue
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		}
	}
}
