// Package services – Dispatcher
//
// Dispatcher runs sync attempts off the request path. Submissions enqueue the
// new entry id and return immediately; a fixed pool of workers drains the
// queue. A full queue drops the id, which is safe because the sweep picks up
// every PENDING row on its next pass.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher is a bounded queue with a fixed worker pool.
type Dispatcher struct {
	queue   chan string
	workers int
	timeout time.Duration
	handle  func(ctx context.Context, id string)

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher; handle runs once per dequeued id with a
// context bounded by timeout (zero means no bound).
func NewDispatcher(size, workers int, timeout time.Duration, handle func(ctx context.Context, id string)) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:   make(chan string, size),
		workers: workers,
		timeout: timeout,
		handle:  handle,
	}
}

// Enqueue offers id to the workers without blocking and reports whether it
// was accepted.
func (d *Dispatcher) Enqueue(id string) bool {
	select {
	case d.queue <- id:
		return true
	default:
		dispatchDropped.Inc()
		return false
	}
}

// Run starts the workers and blocks until ctx is done and in-flight tasks
// have finished. Queued ids not yet started are left to the sweep.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.run(ctx, id)
		}
	}
}

// run detaches the task from shutdown so an attempt that started always
// records its outcome.
func (d *Dispatcher) run(parent context.Context, id string) {
	ctx := context.WithoutCancel(parent)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Interface("panic", r).Str("entry_id", id).Msg("dispatch task panicked")
		}
	}()
	d.handle(ctx, id)
}

// Pending returns the number of queued ids.
func (d *Dispatcher) Pending() int { return len(d.queue) }
