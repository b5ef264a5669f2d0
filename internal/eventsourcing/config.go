package eventsourcing

import "context"

// DispatchPolicy authorizes a would-be event before it is applied.
// current is nil for create (no snapshot exists yet). A false return
// rejects the dispatch with Unauthorized.
type DispatchPolicy func(account Account, hasAccount bool, current *Snapshot, event Event) bool

// AllowAll is the default DispatchPolicy: every dispatch is authorized.
func AllowAll(Account, bool, *Snapshot, Event) bool { return true }

// Construct builds the user-defined portion of a snapshot's Data for a
// create event from its payload.
type Construct func(payload map[string]interface{}) (map[string]interface{}, error)

// Reduce merges an update event's payload into the current Data.
type Reduce func(current map[string]interface{}, payload map[string]interface{}) (map[string]interface{}, error)

// Destruct runs side-effect hooks before a snapshot is removed by a
// delete event. It does not influence persistence.
type Destruct func(ctx context.Context, current map[string]interface{}, payload map[string]interface{}) error

// AggregateEventConfig is immutable metadata for one event kind. The
// hook matching Operation is the one used: Construct for create,
// Reduce for update, and Destruct (which may be nil) for delete.
type AggregateEventConfig struct {
	AggregateType string
	EventType     string
	Operation     Operation
	DispatchPolicy DispatchPolicy

	Construct Construct
	Reduce    Reduce
	Destruct  Destruct
}

// AggregateConfig describes one aggregate type: its event configs and
// the collaborators its store will use.
type AggregateConfig struct {
	AggregateType     string
	AggregateEvents   []AggregateEventConfig
	AggregateRepository AggregateRepository
	CreateAggregateID func() string
	DefaultDispatchPolicy DispatchPolicy
}

// restrictedNames are dispatcher/store method names a configured event
// type must not collide with.
var restrictedNames = map[string]bool{
	"state":        true,
	"subscribe":    true,
	"reset":        true,
	"initialize":   true,
	"initialized":  true,
	"markRecorded": true,
	"applyEvent":   true,
}

// IsRestrictedName reports whether name collides with a store method.
func IsRestrictedName(name string) bool {
	return restrictedNames[name]
}
