// Package bus implements the Event Bus: a resettable, replaying,
// terminable pub/sub conduit shared by every aggregate store and the
// broker.
package bus

import (
	"sync"

	"github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"go.uber.org/zap"
)

// Handler is invoked once per delivered event. A Handler that returns
// an error is treated as a synchronous failure: the bus terminates
// with that error and stops delivering to every subscriber.
type Handler func(event eventsourcing.Event) error

// TerminationHandler is invoked exactly once when the bus terminates.
// err is nil if Terminate was called without one.
type TerminationHandler func(err error)

// Bus is the Event Bus described by the core: every dispatched event
// is broadcast to current subscribers and replayed, in original
// order, to any subscriber attached afterward.
type Bus struct {
	logger *zap.Logger

	mu          sync.Mutex
	replay      []eventsourcing.Event
	subscribers map[int]Handler
	nextSubID   int
	terminated  bool
	termErr     error
	onTerm      []TerminationHandler
}

// New constructs an empty, non-terminated Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[int]Handler),
	}
}

// ErrTerminated is returned by Dispatch once the bus has terminated.
var ErrTerminated = eventsourcing.NewError("bus.Dispatch", eventsourcing.KindStorage, "bus is terminated", nil)

// Dispatch delivers event to every current subscriber, in the order
// Dispatch is called. If any subscriber's Handler returns an error,
// the bus terminates with that error and subsequent subscribers in
// this delivery round are not invoked.
func (b *Bus) Dispatch(event eventsourcing.Event) error {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return ErrTerminated
	}
	b.replay = append(b.replay, event)
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(event); err != nil {
			b.logger.Error("subscriber rejected event, terminating bus",
				zap.String("event_id", event.ID), zap.Error(err))
			b.Terminate(err)
			return err
		}
	}
	return nil
}

// Subscribe registers fn, immediately replays every event dispatched
// since the last reset (in original order), then forwards every
// subsequent event until the returned unsubscribe func is called or
// the bus terminates. Subscribers are not invoked with the terminal
// error; register a TerminationHandler via OnTermination for that.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	backlog := make([]eventsourcing.Event, len(b.replay))
	copy(backlog, b.replay)
	id := b.nextSubID
	b.nextSubID++
	if !b.terminated {
		b.subscribers[id] = fn
	}
	b.mu.Unlock()

	for _, event := range backlog {
		if err := fn(event); err != nil {
			b.Terminate(err)
			break
		}
	}

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Terminate idempotently transitions the bus into the terminated
// state, stopping further delivery. The replay buffer is preserved
// until Reset. Registered TerminationHandlers are invoked exactly
// once, with err (which may be nil).
func (b *Bus) Terminate(err error) {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return
	}
	b.terminated = true
	b.termErr = err
	handlers := make([]TerminationHandler, len(b.onTerm))
	copy(handlers, b.onTerm)
	b.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// OnTermination registers a handler invoked exactly once on
// termination. If the bus is already terminated, fn is invoked
// synchronously with the existing termination error.
func (b *Bus) OnTermination(fn TerminationHandler) {
	b.mu.Lock()
	if b.terminated {
		err := b.termErr
		b.mu.Unlock()
		fn(err)
		return
	}
	b.onTerm = append(b.onTerm, fn)
	b.mu.Unlock()
}

// Reset clears the replay buffer and restores non-terminated state.
// Existing subscribers remain attached and eligible for future
// events; termination handlers also stay registered, so a bus that
// terminates again fires them again.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replay = nil
	b.terminated = false
	b.termErr = nil
}

// Terminated reports whether the bus is currently in the terminated
// state.
func (b *Bus) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}
