// Package loop serializes engine state transitions onto a single goroutine.
// Navigation events, media events, timer fires and API commands are posted as
// tasks and run one at a time, in order. Blocking I/O runs on worker
// goroutines started with Go, whose continuations are posted back.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned when a task is submitted to a closed loop.
var ErrClosed = errors.New("loop: closed")

// Task is a unit of work run on the loop goroutine.
type Task func()

// Loop is an unbounded, single-consumer task queue.
type Loop struct {
	mu       sync.Mutex
	tasks    []Task
	inflight int
	closed   bool
	wake     chan struct{}
	logger   *slog.Logger
}

// New creates an empty loop.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Post queues t. It returns false if the loop is closed.
func (l *Loop) Post(t Task) bool {
	if t == nil {
		return true
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()
	l.signal()
	return true
}

// Go runs work on a new goroutine and posts the continuation it returns,
// if any. Settle waits for outstanding work started this way.
func (l *Loop) Go(work func() Task) {
	l.mu.Lock()
	l.inflight++
	l.mu.Unlock()

	go func() {
		var next Task
		defer func() {
			l.mu.Lock()
			if next != nil && !l.closed {
				l.tasks = append(l.tasks, next)
			}
			l.inflight--
			l.mu.Unlock()
			l.signal()
		}()
		next = work()
	}()
}

// Do posts fn and blocks until it has run on the loop.
// It must not be called from a task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs queued tasks until ctx is done or the loop is closed and drained.
func (l *Loop) Start(ctx context.Context) {
	for {
		task, ok, closed := l.pop()
		if ok {
			l.run(task)
			continue
		}
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Settle runs tasks on the calling goroutine until no task is queued and no
// work started with Go is outstanding. It is meant for tests and shutdown,
// when Start is not running.
func (l *Loop) Settle() {
	for {
		task, ok, _ := l.pop()
		if ok {
			l.run(task)
			continue
		}
		l.mu.Lock()
		idle := l.inflight == 0 && len(l.tasks) == 0
		l.mu.Unlock()
		if idle {
			return
		}
		<-l.wake
	}
}

// Close stops accepting tasks. Queued tasks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) pop() (Task, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false, l.closed
	}
	t := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return t, true, l.closed
}

func (l *Loop) run(t Task) {
	defer func() {
		if err := recover(); err != nil {
			l.logger.Error("panic recovered in loop task",
				slog.Any("error", err),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	t()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
