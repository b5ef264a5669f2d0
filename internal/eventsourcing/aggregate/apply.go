package aggregate

import (
	"context"
	"fmt"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"go.uber.org/zap"
)

// ApplyEvent is the entry point for remotely received events (the
// broker applies fetched events directly). It computes the next
// snapshot, updates in-memory state optimistically, then persists
// event + snapshot + bus emission in sequence. Any persistence failure
// rolls the in-memory state back and terminates the bus; ApplyEvent
// itself never returns a persistence error to the caller once the
// optimistic update has happened — rollback plus bus termination is
// the error channel for that class of failure, per the core's
// propagation policy.
//
// It acquires dispatchMu so it never interleaves with a local
// Create/Update/Delete's build-then-apply sequence against the same
// store.
func (s *Store) ApplyEvent(ctx context.Context, event es.Event) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	return s.applyEventLocked(ctx, event)
}

// applyEventLocked is ApplyEvent's body, run under dispatchMu. Callers
// that already hold dispatchMu (the local Create/Update/Delete
// dispatchers) call this directly instead of re-entering ApplyEvent.
func (s *Store) applyEventLocked(ctx context.Context, event es.Event) error {
	if event.AggregateType != s.aggregateType {
		return es.NewError("aggregate.ApplyEvent", es.KindAggregateTypeMismatch,
			fmt.Sprintf("event aggregate type %q does not match store type %q", event.AggregateType, s.aggregateType), nil)
	}

	s.mu.Lock()
	current, hasCurrent := s.state[event.AggregateID]
	if event.Operation != es.OperationCreate && !hasCurrent {
		s.mu.Unlock()
		return es.NewError("aggregate.ApplyEvent", es.KindNotFound,
			fmt.Sprintf("aggregate %q does not exist", event.AggregateID), nil)
	}

	previous := cloneCollection(s.state)

	next, deleted, err := s.computeNext(ctx, current, hasCurrent, event)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if deleted {
		delete(s.state, event.AggregateID)
	} else {
		s.state[event.AggregateID] = next
	}
	s.mu.Unlock()
	s.notify()

	if err := s.persist(ctx, event, next, deleted); err != nil {
		s.mu.Lock()
		s.state = previous
		s.mu.Unlock()
		s.notify()

		s.logger.Error("persistence failed, rolling back and terminating bus",
			zap.String("event_id", event.ID), zap.Error(err))
		if s.deps.Bus != nil {
			s.deps.Bus.Terminate(err)
		}
		return nil
	}

	return nil
}

func (s *Store) computeNext(ctx context.Context, current es.Snapshot, hasCurrent bool, event es.Event) (next es.Snapshot, deleted bool, err error) {
	cfg, ok := s.events[event.Type]
	if !ok {
		return es.Snapshot{}, false, es.NewError("aggregate.ApplyEvent", es.KindInvalidInput,
			fmt.Sprintf("no event configured with type %q", event.Type), nil)
	}

	switch event.Operation {
	case es.OperationCreate:
		data, cerr := cfg.Construct(event.Payload)
		if cerr != nil {
			return es.Snapshot{}, false, es.NewError("aggregate.ApplyEvent", es.KindInvalidInput, "construct failed", cerr)
		}
		next = es.Snapshot{
			ID:          event.AggregateID,
			CreatedBy:   event.CreatedBy,
			CreatedOn:   event.CreatedOn,
			CreatedAt:   event.DispatchedAt,
			UpdatedAt:   event.DispatchedAt,
			LastEventID: event.ID,
			Version:     1,
			Data:        data,
		}
		if event.RecordedAt != nil {
			next.LastRecordedAt = event.RecordedAt
		}
		return next, false, nil

	case es.OperationUpdate:
		data, rerr := cfg.Reduce(current.Data, event.Payload)
		if rerr != nil {
			return es.Snapshot{}, false, es.NewError("aggregate.ApplyEvent", es.KindInvalidInput, "reduce failed", rerr)
		}
		next = current
		next.Data = data
		next.UpdatedAt = event.DispatchedAt
		next.LastEventID = event.ID
		next.Version = current.Version + 1
		if event.RecordedAt != nil {
			next.LastRecordedAt = event.RecordedAt
		}
		return next, false, nil

	case es.OperationDelete:
		if cfg.Destruct != nil {
			if derr := cfg.Destruct(ctx, current.Data, event.Payload); derr != nil {
				return es.Snapshot{}, false, es.NewError("aggregate.ApplyEvent", es.KindInvalidInput, "destruct failed", derr)
			}
		}
		return es.Snapshot{}, true, nil

	default:
		return es.Snapshot{}, false, es.NewError("aggregate.ApplyEvent", es.KindInvalidInput,
			fmt.Sprintf("unknown operation %q", event.Operation), nil)
	}
}

// persist writes the event, then the matching snapshot operation, then
// emits the event on the bus, in that order, per the core's dual-write
// sequence.
func (s *Store) persist(ctx context.Context, event es.Event, next es.Snapshot, deleted bool) error {
	if s.deps.EventsRepository != nil {
		if err := s.deps.EventsRepository.Create(ctx, event); err != nil {
			return es.NewError("aggregate.persist", es.KindStorage, "event repository create failed", err)
		}
	}

	if s.deps.AggregateRepository != nil {
		var err error
		switch event.Operation {
		case es.OperationCreate:
			err = s.deps.AggregateRepository.Create(ctx, next)
		case es.OperationUpdate:
			err = s.deps.AggregateRepository.Update(ctx, next)
		case es.OperationDelete:
			err = s.deps.AggregateRepository.Delete(ctx, event.AggregateID)
		}
		if err != nil {
			return es.NewError("aggregate.persist", es.KindStorage, "aggregate repository write failed", err)
		}
	}
	_ = deleted

	if s.deps.Bus != nil {
		if err := s.deps.Bus.Dispatch(event); err != nil {
			return es.NewError("aggregate.persist", es.KindStorage, "bus dispatch failed", err)
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.EventsApplied.WithLabelValues(s.aggregateType, string(event.Operation)).Inc()
	}

	return nil
}

// MarkRecorded updates the aggregate's lastRecordedAt, backfills
// createdBy on the snapshot only if it was previously absent, and
// delegates to the event repository's MarkRecorded. It fails with
// AggregateTypeMismatch if the event belongs to a different aggregate
// type, and silently tolerates a missing aggregate (it may have been
// deleted or superseded since the event was recorded).
func (s *Store) MarkRecorded(ctx context.Context, event es.Event) error {
	if event.AggregateType != s.aggregateType {
		return es.NewError("aggregate.MarkRecorded", es.KindAggregateTypeMismatch,
			fmt.Sprintf("event aggregate type %q does not match store type %q", event.AggregateType, s.aggregateType), nil)
	}

	recordedAt := event.DispatchedAt
	if event.RecordedAt != nil {
		recordedAt = *event.RecordedAt
	}

	s.mu.Lock()
	current, ok := s.state[event.AggregateID]
	if ok {
		current.LastRecordedAt = &recordedAt
		if current.CreatedBy == "" && event.CreatedBy != "" {
			current.CreatedBy = event.CreatedBy
		}
		s.state[event.AggregateID] = current
	}
	s.mu.Unlock()
	if ok {
		s.notify()
		if s.deps.AggregateRepository != nil {
			if err := s.deps.AggregateRepository.Update(ctx, current); err != nil {
				return es.NewError("aggregate.MarkRecorded", es.KindStorage, "aggregate repository update failed", err)
			}
		}
	}

	if s.deps.EventsRepository != nil {
		if err := s.deps.EventsRepository.MarkRecorded(ctx, event.ID, recordedAt, event.CreatedBy); err != nil {
			return es.NewError("aggregate.MarkRecorded", es.KindNotFound, "event repository mark recorded failed", err)
		}
	}

	return nil
}
