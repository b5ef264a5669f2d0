// Package projection provides a read-model Projection Manager that
// subscribes to a bus.Bus and rebuilds named projections by replay,
// independent of any one aggregate store. It exists because the bus's
// replay contract (every subscriber sees the full backlog before live
// events) makes rebuild-by-replay possible without a separate event
// log reader.
package projection

import (
	"context"
	"errors"
	"sync"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/bus"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRegistered is returned by Register when a projection
	// with the same name is already known to the manager.
	ErrAlreadyRegistered = errors.New("projection: already registered")
	// ErrNotFound is returned by Rebuild when no projection with the
	// given name has been registered.
	ErrNotFound = errors.New("projection: not found")
)

// Projection is a read model that can be rebuilt from scratch by
// replaying every event in order.
type Projection interface {
	Name() string
	HandleEvent(ctx context.Context, event es.Event) error
	Reset(ctx context.Context) error
}

// FuncProjection adapts a name and a set of per-event-type handler
// funcs into a Projection, mirroring the teacher's BaseProjection
// dispatch-by-type shape without requiring a new struct per
// projection.
type FuncProjection struct {
	ProjectionName string
	Handlers       map[string]func(ctx context.Context, event es.Event) error
	ResetFunc      func(ctx context.Context) error
}

func (p *FuncProjection) Name() string { return p.ProjectionName }

func (p *FuncProjection) HandleEvent(ctx context.Context, event es.Event) error {
	handler, ok := p.Handlers[event.Type]
	if !ok {
		return nil
	}
	return handler(ctx, event)
}

func (p *FuncProjection) Reset(ctx context.Context) error {
	if p.ResetFunc == nil {
		return nil
	}
	return p.ResetFunc(ctx)
}

// Manager subscribes to a bus and routes every dispatched event
// (replay backlog, then live) to every registered projection.
// Rebuild resets one projection and replays the bus's current backlog
// into it alone, without disturbing the others.
type Manager struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu          sync.RWMutex
	projections map[string]Projection
	unsubscribe func()
}

// New constructs a Manager that will receive every event dispatched
// on b, including its replay backlog, once Start is called.
func New(b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{bus: b, logger: logger, projections: make(map[string]Projection)}
}

// Register adds projection to the manager. It does not retroactively
// replay the backlog into projection; call Rebuild for that.
func (m *Manager) Register(p Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projections[p.Name()]; ok {
		return ErrAlreadyRegistered
	}
	m.projections[p.Name()] = p
	return nil
}

// Start subscribes the manager to the bus. Because bus.Subscribe
// replays its backlog before forwarding live events, every projection
// already registered at Start time receives the full history so far.
func (m *Manager) Start() {
	m.unsubscribe = m.bus.Subscribe(func(event es.Event) error {
		m.dispatch(context.Background(), event)
		return nil
	})
}

// Stop unsubscribes the manager from the bus.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Manager) dispatch(ctx context.Context, event es.Event) {
	m.mu.RLock()
	projections := make([]Projection, 0, len(m.projections))
	for _, p := range m.projections {
		projections = append(projections, p)
	}
	m.mu.RUnlock()

	for _, p := range projections {
		if err := p.HandleEvent(ctx, event); err != nil {
			m.logger.Error("projection failed to handle event",
				zap.String("projection", p.Name()),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	}
}

// Rebuild resets the named projection and replays the bus's current
// backlog into it by subscribing and immediately unsubscribing — the
// backlog arrives synchronously inside bus.Subscribe before it
// returns, so no live events leak into the one-shot replay.
func (m *Manager) Rebuild(ctx context.Context, name string) error {
	m.mu.RLock()
	p, ok := m.projections[name]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if err := p.Reset(ctx); err != nil {
		return err
	}

	// The handler always returns nil: a replay failure for one
	// projection must not terminate the shared bus for every other
	// subscriber. Failures are logged instead.
	unsubscribe := m.bus.Subscribe(func(event es.Event) error {
		if err := p.HandleEvent(ctx, event); err != nil {
			m.logger.Error("projection failed during rebuild",
				zap.String("projection", name), zap.String("event_type", event.Type), zap.Error(err))
		}
		return nil
	})
	unsubscribe()
	return nil
}

// RebuildAll resets and replays every registered projection.
func (m *Manager) RebuildAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.projections))
	for name := range m.projections {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Rebuild(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
