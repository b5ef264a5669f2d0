// Package memory provides in-process EventsRepository and
// AggregateRepository implementations. They back the core's own
// tests and give an embedding application something to start from
// before wiring a durable adapter.
package memory

import (
	"context"
	"sync"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"go.uber.org/zap"
)

// EventsRepository is an in-memory es.EventsRepository.
type EventsRepository struct {
	mu     sync.RWMutex
	events []es.Event
	byID   map[string]int
	logger *zap.Logger
}

// NewEventsRepository constructs an empty EventsRepository.
func NewEventsRepository(logger *zap.Logger) *EventsRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsRepository{
		byID:   make(map[string]int),
		logger: logger,
	}
}

func (r *EventsRepository) Create(ctx context.Context, event es.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[event.ID] = len(r.events)
	r.events = append(r.events, event)
	return nil
}

func (r *EventsRepository) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.byID = make(map[string]int)
	return nil
}

func (r *EventsRepository) MarkRecorded(ctx context.Context, id string, recordedAt time.Time, createdBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[id]
	if !ok {
		return es.NewError("memory.MarkRecorded", es.KindNotFound, "event not found: "+id, nil)
	}
	event := r.events[idx]
	ts := recordedAt
	event.RecordedAt = &ts
	if event.CreatedBy == "" {
		event.CreatedBy = createdBy
	}
	r.events[idx] = event
	return nil
}

func (r *EventsRepository) GetUnrecorded(ctx context.Context) ([]es.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []es.Event
	for _, e := range r.events {
		if e.RecordedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *EventsRepository) GetLastReceivedEvent(ctx context.Context, localDeviceID string) (es.Event, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last es.Event
	found := false
	for _, e := range r.events {
		if e.RecordedAt == nil || e.CreatedOn == localDeviceID {
			continue
		}
		if !found || e.RecordedAt.After(*last.RecordedAt) {
			last = e
			found = true
		}
	}
	return last, found, nil
}

// AggregateRepository is an in-memory es.AggregateRepository.
type AggregateRepository struct {
	mu        sync.RWMutex
	snapshots map[string]es.Snapshot
}

// NewAggregateRepository constructs an empty AggregateRepository.
func NewAggregateRepository() *AggregateRepository {
	return &AggregateRepository{snapshots: make(map[string]es.Snapshot)}
}

func (r *AggregateRepository) GetOne(ctx context.Context, id string) (es.Snapshot, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[id]
	return s, ok, nil
}

func (r *AggregateRepository) GetAll(ctx context.Context) (map[string]es.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]es.Snapshot, len(r.snapshots))
	for k, v := range r.snapshots {
		out[k] = v
	}
	return out, nil
}

func (r *AggregateRepository) Create(ctx context.Context, snapshot es.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snapshot.ID] = snapshot
	return nil
}

func (r *AggregateRepository) Update(ctx context.Context, snapshot es.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snapshot.ID] = snapshot
	return nil
}

func (r *AggregateRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, id)
	return nil
}

func (r *AggregateRepository) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = make(map[string]es.Snapshot)
	return nil
}
