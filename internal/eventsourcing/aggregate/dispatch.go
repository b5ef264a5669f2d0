package aggregate

import (
	"context"
	"fmt"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
)

// Create dispatches a create event of eventType and returns the newly
// minted aggregate id. Build and apply run under dispatchMu as one
// critical section so no concurrent dispatcher can observe the
// pre-apply snapshot this event's PrevID is derived from.
func (s *Store) Create(ctx context.Context, eventType string, payload map[string]interface{}) (string, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	event, err := s.buildEvent(ctx, eventType, es.OperationCreate, "", payload)
	if err != nil {
		return "", err
	}
	if err := s.applyEventLocked(ctx, event); err != nil {
		return "", err
	}
	return event.AggregateID, nil
}

// Update dispatches an update event of eventType against an existing
// aggregate id. See Create for the build+apply locking rationale.
func (s *Store) Update(ctx context.Context, eventType string, aggregateID string, payload map[string]interface{}) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	event, err := s.buildEvent(ctx, eventType, es.OperationUpdate, aggregateID, payload)
	if err != nil {
		return err
	}
	return s.applyEventLocked(ctx, event)
}

// Delete dispatches a delete event of eventType against an existing
// aggregate id. See Create for the build+apply locking rationale.
func (s *Store) Delete(ctx context.Context, eventType string, aggregateID string, payload map[string]interface{}) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	event, err := s.buildEvent(ctx, eventType, es.OperationDelete, aggregateID, payload)
	if err != nil {
		return err
	}
	return s.applyEventLocked(ctx, event)
}

// buildEvent performs the dispatcher construction algorithm (§4.2):
// validate payload, resolve deviceId/account, assign ids, evaluate the
// dispatch policy, and produce a ready-to-apply Event. Apart from the
// first-call Initialize, which loads snapshots from the aggregate
// repository into memory, it does not mutate store state and never
// writes to persistence. Callers must hold
// dispatchMu for the snapshot read (current.LastEventID -> PrevID) to
// stay consistent with whatever applyEventLocked does with the
// resulting event.
func (s *Store) buildEvent(ctx context.Context, eventType string, op es.Operation, aggregateID string, payload map[string]interface{}) (es.Event, error) {
	if err := s.Initialize(ctx); err != nil {
		return es.Event{}, err
	}

	cfg, ok := s.events[eventType]
	if !ok || cfg.Operation != op {
		return es.Event{}, es.NewError("aggregate.buildEvent", es.KindInvalidInput,
			fmt.Sprintf("no %s event configured with type %q", op, eventType), nil)
	}

	if s.deps.Validator != nil {
		if err := s.deps.Validator.Validate(ctx, eventType, payload); err != nil {
			return es.Event{}, es.NewError("aggregate.buildEvent", es.KindInvalidInput, "payload failed validation", err)
		}
	}

	var deviceID string
	var account es.Account
	var hasAccount bool
	if s.deps.AuthAdapter != nil {
		var err error
		deviceID, err = s.deps.AuthAdapter.GetDeviceID(ctx)
		if err != nil {
			return es.Event{}, es.NewError("aggregate.buildEvent", es.KindStorage, "failed to resolve device id", err)
		}
		account, hasAccount, err = s.deps.AuthAdapter.GetAccount(ctx)
		if err != nil {
			return es.Event{}, es.NewError("aggregate.buildEvent", es.KindStorage, "failed to resolve account", err)
		}
	}

	resolvedID := aggregateID
	if op == es.OperationCreate {
		resolvedID = s.createAggregateID()
	}

	s.mu.RLock()
	current, hasCurrent := s.state[resolvedID]
	s.mu.RUnlock()

	var prevID string
	if op != es.OperationCreate {
		if !hasCurrent {
			return es.Event{}, es.NewError("aggregate.buildEvent", es.KindNotFound,
				fmt.Sprintf("aggregate %q does not exist", resolvedID), nil)
		}
		prevID = current.LastEventID
	}

	createdBy := ""
	if hasAccount {
		createdBy = account.ID
	}

	event := es.Event{
		ID:            s.deps.CreateEventID(),
		Operation:     op,
		AggregateType: s.aggregateType,
		AggregateID:   resolvedID,
		Type:          eventType,
		Payload:       payload,
		DispatchedAt:  nowFn(),
		CreatedBy:     createdBy,
		CreatedOn:     deviceID,
		PrevID:        prevID,
	}

	var currentPtr *es.Snapshot
	if hasCurrent {
		c := current
		currentPtr = &c
	}
	policy := cfg.DispatchPolicy
	if policy == nil {
		policy = s.defaultPolicy
	}
	if !policy(account, hasAccount, currentPtr, event) {
		return es.Event{}, es.NewError("aggregate.buildEvent", es.KindUnauthorized,
			fmt.Sprintf("dispatch of %q rejected by policy", eventType), nil)
	}

	return event, nil
}
