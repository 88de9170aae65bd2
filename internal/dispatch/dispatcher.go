package dispatch

import (
	"context"
	"log"
	"sync"
	"time"
)

// Subscriber receives every dispatched LifecycleEvent.
type Subscriber interface {
	Name() string
	Handle(context.Context, LifecycleEvent) error
}

// Dispatcher fans each event out to a fixed set of Subscribers (always
// on their own goroutine, with bounded retries) plus whatever per-execution
// stream subscribers are currently registered.
type Dispatcher struct {
	logger       *log.Logger
	subscribers  []Subscriber
	retryCount   int
	retryBackoff time.Duration

	mu      sync.RWMutex
	streams map[string]*StreamSubscriber
}

// New builds a Dispatcher with the given fixed subscribers (typically a
// logging subscriber plus zero or more webhook subscribers).
func New(logger *log.Logger, subs []Subscriber) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
		streams:      make(map[string]*StreamSubscriber),
	}
}

// Dispatch hands event to every fixed subscriber on its own goroutine
// and, non-blockingly, to any stream subscriber registered for the
// event's execution. It never blocks the caller beyond spawning
// goroutines and never returns an error: a subscriber failure is only
// ever logged.
func (d *Dispatcher) Dispatch(ctx context.Context, event LifecycleEvent) {
	for _, sub := range d.subscribers {
		s := sub
		go d.dispatchOne(ctx, s, event)
	}

	d.mu.RLock()
	stream, ok := d.streams[event.ExecutionID]
	d.mu.RUnlock()
	if ok {
		stream.deliver(event)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub Subscriber, event LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("subscriber=%s execution_id=%s kind=%s panic=%v", sub.Name(), event.ExecutionID, event.Kind, r)
		}
	}()
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.logger.Printf("subscriber=%s execution_id=%s kind=%s attempt=%d err=%v", sub.Name(), event.ExecutionID, event.Kind, attempt, err)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}

// RegisterStream attaches a stream subscriber for one execution's
// lifetime. Callers must Unregister when the execution completes or the
// viewer disconnects, whichever comes first.
func (d *Dispatcher) RegisterStream(executionID string, sub *StreamSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams[executionID] = sub
}

// UnregisterStream detaches and closes the stream subscriber for executionID.
func (d *Dispatcher) UnregisterStream(executionID string) {
	d.mu.Lock()
	sub, ok := d.streams[executionID]
	delete(d.streams, executionID)
	d.mu.Unlock()
	if ok {
		sub.close()
	}
}
