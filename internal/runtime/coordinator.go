package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrClosed is returned for work submitted after shutdown.
var ErrClosed = errors.New("runtime: database is closed")

// job is one unit of database work and the channel its caller waits on.
type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Coordinator serializes all database work through a single goroutine.
// Jobs run strictly in submission order; while one runs, every other
// caller waits. This gives transactions database exclusivity without
// engine-level locking.
type Coordinator struct {
	logger *slog.Logger
	jobs   chan *job

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Coordinator{
		logger:  logger,
		jobs:    make(chan *job),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.drained)
	for {
		select {
		case <-c.closed:
			return
		case j := <-c.jobs:
			if j.ctx.Err() != nil {
				// The caller gave up while queued; don't run its work.
				j.done <- j.ctx.Err()
				continue
			}
			// Admitted work must not be interrupted mid-statement: it
			// runs under a context detached from the caller's
			// cancellation (values kept, deadline dropped).
			j.done <- j.fn(context.WithoutCancel(j.ctx))
		}
	}
}

// Do submits fn and blocks until it has run, in FIFO order with all
// other submissions. The context governs only the queue wait: once fn
// starts it runs to completion even if the caller cancels.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
	return <-j.done
}

// Close stops the loop. Jobs already started finish; queued jobs that
// lost the race fail with ErrClosed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	<-c.drained
}
