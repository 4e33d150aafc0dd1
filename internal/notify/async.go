package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const deliveryTimeout = 30 * time.Second

// Async queues events and delivers them on a background goroutine. Notify
// never blocks; events are dropped and logged when the queue is full.
type Async struct {
	next  Dispatcher
	log   zerolog.Logger
	queue chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Dispatcher, size int, log zerolog.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		next:  next,
		log:   log,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := a.next.Notify(ctx, ev); err != nil {
			a.log.Warn().Err(err).
				Str("type", string(ev.Type)).
				Str("task_id", ev.TaskID).
				Msg("notification: delivery failed (non-fatal)")
		}
		cancel()
	}
}

func (a *Async) Notify(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.log.Warn().Str("type", string(ev.Type)).Str("task_id", ev.TaskID).Msg("notification: dispatcher closed, dropping event")
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		a.log.Warn().Str("type", string(ev.Type)).Str("task_id", ev.TaskID).Msg("notification: queue full, dropping event")
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
