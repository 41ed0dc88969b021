// Package eventbus provides the per-manager publish/subscribe bus that
// carries periodic tick events to running game sessions.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Event names a class of bus events.
type Event string

const (
	// EventSecond fires once per tick-loop iteration.
	EventSecond Event = "second"
	// EventMinute fires after every sixtieth second event.
	EventMinute Event = "minute"
)

// Callback handles one emission. payload is whatever the emitter passed.
type Callback func(ctx context.Context, payload any) error

// Handle identifies a subscription for later removal.
type Handle struct {
	event Event
	id    uint64
}

// Event returns the event the handle is subscribed to.
func (h Handle) Event() Event { return h.event }

type subscriber struct {
	id uint64
	fn Callback
}

// Bus fans events out to subscribed callbacks.
//
// Invariant: within one Emit, callbacks run one at a time in subscription order.
// All methods are safe for concurrent use, including from inside a callback.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Event][]subscriber
	logger *zap.Logger
}

// New creates an empty Bus.
//
// Precondition: logger must be non-nil.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[Event][]subscriber),
		logger: logger,
	}
}

// Subscribe appends fn to the subscribers of event.
//
// Precondition: fn must be non-nil.
// Postcondition: fn receives every emission of event that starts after Subscribe returns.
func (b *Bus) Subscribe(event Event, fn Callback) Handle {
	if fn == nil {
		panic("eventbus.Subscribe: precondition violated: callback must be non-nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[event] = append(b.subs[event], subscriber{id: b.nextID, fn: fn})
	return Handle{event: event, id: b.nextID}
}

// Unsubscribe removes the subscription identified by h. An emission already
// in progress still delivers to it; later emissions do not.
//
// Postcondition: Returns false if h was not subscribed.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[h.event]
	for i, s := range subs {
		if s.id != h.id {
			continue
		}
		// Copy so snapshots held by running emissions stay intact.
		next := make([]subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, h.event)
		} else {
			b.subs[h.event] = next
		}
		return true
	}
	return false
}

// Len returns the number of subscribers for event.
func (b *Bus) Len(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}

// Emit delivers payload to every callback subscribed to event when Emit was
// called. A failing or panicking callback is logged and skipped.
//
// Postcondition: Returns ctx.Err() if ctx was cancelled before all callbacks
// ran; otherwise nil.
func (b *Bus) Emit(ctx context.Context, event Event, payload any) error {
	b.mu.Lock()
	snapshot := b.subs[event]
	b.mu.Unlock()

	for _, s := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := invoke(ctx, s.fn, payload); err != nil {
			b.logger.Warn("eventbus: callback failed",
				zap.String("event", string(event)),
				zap.Uint64("subscriber", s.id),
				zap.Error(err),
			)
		}
	}
	return nil
}

func invoke(ctx context.Context, fn Callback, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return fn(ctx, payload)
}
