// Package session runs one consumer loop per chat session. Each loop drains
// the shared event queue into its own renderer.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/log"
)

// DefaultPollInterval is how long an idle consumer sleeps between polls.
const DefaultPollInterval = 100 * time.Millisecond

// Source is the consumer's view of the shared queue.
type Source interface {
	PopFront() (event.StatusEvent, bool)
}

// Renderer renders one event. render.Dispatcher satisfies it.
type Renderer interface {
	Dispatch(ctx context.Context, ev event.StatusEvent) error
}

// Consumer moves events from a Source to a Renderer, one at a time, in
// FIFO order.
type Consumer struct {
	id       string
	source   Source
	renderer Renderer
	interval time.Duration

	running  atomic.Bool
	started  atomic.Bool
	handled  atomic.Uint64
	failures atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewConsumer creates a consumer. interval <= 0 uses DefaultPollInterval.
func NewConsumer(id string, source Source, renderer Renderer, interval time.Duration) *Consumer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Consumer{
		id:       id,
		source:   source,
		renderer: renderer,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Consumer) ID() string { return c.id }

// Start launches the loop. It can be called once; later calls are no-ops.
func (c *Consumer) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.running.Store(true)
	go c.loop(ctx)
}

// Stop asks the loop to exit. It does not interrupt an in-flight render;
// the loop notices at the top of its next iteration.
func (c *Consumer) Stop() {
	c.running.Store(false)
	c.stopOnce.Do(func() { close(c.stop) })
}

// Wait blocks until the loop has exited. It returns immediately if the
// consumer was never started.
func (c *Consumer) Wait() {
	if !c.started.Load() {
		return
	}
	<-c.done
}

// Running reports whether the loop is still scheduled to run.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Handled returns the number of events dispatched.
func (c *Consumer) Handled() uint64 { return c.handled.Load() }

// Failures returns the number of events whose dispatch returned an error
// or panicked.
func (c *Consumer) Failures() uint64 { return c.failures.Load() }

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)
	defer c.running.Store(false)

	log.Debug(log.CatConsumer, "consumer started", "session", c.id, "interval", c.interval)
	defer log.Debug(log.CatConsumer, "consumer stopped", "session", c.id)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for c.running.Load() && ctx.Err() == nil {
		ev, ok := c.source.PopFront()
		if !ok {
			timer.Reset(c.interval)
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-timer.C:
			}
			continue
		}

		if err := c.handle(ctx, ev); err != nil {
			c.failures.Add(1)
			log.ErrorErr(log.CatConsumer, "event dispatch failed", err, "session", c.id, "type", ev.TypeName)
		}
		c.handled.Add(1)
	}
}

func (c *Consumer) handle(ctx context.Context, ev event.StatusEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
		}
	}()
	return c.renderer.Dispatch(ctx, ev)
}
