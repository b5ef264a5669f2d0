package eventsourcing

import (
	"context"
	"time"
)

// EventsRepository persists the append-only event log. Implementations
// live under adapters/ — the core never assumes a storage technology.
type EventsRepository interface {
	Create(ctx context.Context, event Event) error
	DeleteAll(ctx context.Context) error
	// MarkRecorded fails with a NotFound SyncError if id does not exist.
	// createdBy is applied only if the stored event's CreatedBy is empty.
	MarkRecorded(ctx context.Context, id string, recordedAt time.Time, createdBy string) error
	GetUnrecorded(ctx context.Context) ([]Event, error)
	// GetLastReceivedEvent returns the most recent event whose
	// RecordedAt is set and whose CreatedOn differs from localDeviceID,
	// or (Event{}, false) if there is none.
	GetLastReceivedEvent(ctx context.Context, localDeviceID string) (Event, bool, error)
}

// AggregateRepository persists the materialized snapshot collection
// for one aggregate type.
type AggregateRepository interface {
	GetOne(ctx context.Context, id string) (Snapshot, bool, error)
	GetAll(ctx context.Context) (map[string]Snapshot, error)
	Create(ctx context.Context, snapshot Snapshot) error
	Update(ctx context.Context, snapshot Snapshot) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// AuthAdapter resolves the local device id and the currently
// authenticated account, if any. Dispatch calls made while logged out
// proceed with an empty CreatedBy, backfilled on first successful
// recording.
type AuthAdapter interface {
	GetDeviceID(ctx context.Context) (string, error)
	// GetAccount returns (Account{}, false, nil) when logged out.
	GetAccount(ctx context.Context) (Account, bool, error)
}

// EventServerAdapter is the remote counterpart the broker synchronizes
// against: it records locally-dispatched events and fetches events the
// server has that this client doesn't.
type EventServerAdapter interface {
	// Record echoes the input event back with RecordedAt set and
	// CreatedBy resolved.
	Record(ctx context.Context, event Event) (Event, error)
	// Fetch returns events after afterEventID (or from the beginning
	// if afterEventID is empty).
	Fetch(ctx context.Context, afterEventID string) ([]Event, error)
}

// EventServerSubscriber is an optional capability of EventServerAdapter:
// implementations that support server push satisfy this in addition.
type EventServerSubscriber interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// ConnectionStatusAdapter reports whether the embedding application
// currently has a usable connection to the event server.
type ConnectionStatusAdapter interface {
	// Get returns (connected, known). known is false when connectivity
	// status is unknown and should be ignored by callers.
	Get(ctx context.Context) (connected bool, known bool)
	Subscribe(fn func(connected bool, known bool)) (unsubscribe func())
}

// Validator checks a payload against the schema an aggregate's event
// config declares for one event type, returning a descriptive error
// when it fails.
type Validator interface {
	Validate(ctx context.Context, eventType string, payload map[string]interface{}) error
}
