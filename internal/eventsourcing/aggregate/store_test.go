package aggregate_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/abdoElHodaky/eventcore/adapters/memory"
	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/aggregate"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func profileConfig() es.AggregateConfig {
	return es.AggregateConfig{
		AggregateType: "profile",
		AggregateEvents: []es.AggregateEventConfig{
			{
				EventType: "profile.create",
				Operation: es.OperationCreate,
				Construct: func(payload map[string]interface{}) (map[string]interface{}, error) {
					out := make(map[string]interface{}, len(payload))
					for k, v := range payload {
						out[k] = v
					}
					return out, nil
				},
			},
			{
				EventType: "profile.update",
				Operation: es.OperationUpdate,
				Reduce: func(current map[string]interface{}, payload map[string]interface{}) (map[string]interface{}, error) {
					out := make(map[string]interface{}, len(current))
					for k, v := range current {
						out[k] = v
					}
					for k, v := range payload {
						out[k] = v
					}
					return out, nil
				},
			},
			{
				EventType: "profile.delete",
				Operation: es.OperationDelete,
			},
		},
	}
}

func newTestStore(t *testing.T) (*aggregate.Store, *bus.Bus) {
	t.Helper()
	b := bus.New(zaptest.NewLogger(t))
	var counter int64
	store, err := aggregate.New(profileConfig(), aggregate.Deps{
		EventsRepository:    memory.NewEventsRepository(zaptest.NewLogger(t)),
		AggregateRepository: memory.NewAggregateRepository(),
		Bus:                 b,
		CreateEventID: func() string {
			counter++
			return "evt-" + itoa(counter)
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return store, b
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestStore_CreateThenUpdate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "profile.create", map[string]interface{}{"name": "a"})
	require.NoError(t, err)

	err = store.Update(ctx, "profile.update", id, map[string]interface{}{"name": "b"})
	require.NoError(t, err)

	state := store.State()
	snap, ok := state[id]
	require.True(t, ok)
	assert.Equal(t, "b", snap.Data["name"])
	assert.Equal(t, 2, snap.Version)
}

func TestStore_UpdateOnMissingIDFailsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Update(ctx, "profile.update", "missing", map[string]interface{}{"name": "b"})
	require.Error(t, err)
	kind, ok := es.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, es.KindNotFound, kind)
}

func TestStore_DispatchPolicyRejectsUnauthorized(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	cfg := profileConfig()
	cfg.DefaultDispatchPolicy = func(es.Account, bool, *es.Snapshot, es.Event) bool { return false }

	store, err := aggregate.New(cfg, aggregate.Deps{
		EventsRepository:    memory.NewEventsRepository(zaptest.NewLogger(t)),
		AggregateRepository: memory.NewAggregateRepository(),
		Bus:                 b,
		CreateEventID:       func() string { return "evt-1" },
		Logger:              zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	_, err = store.Create(context.Background(), "profile.create", map[string]interface{}{"name": "a"})
	require.Error(t, err)
	kind, ok := es.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, es.KindUnauthorized, kind)
}

func TestStore_RestrictedEventNameRejected(t *testing.T) {
	cfg := es.AggregateConfig{
		AggregateType: "profile",
		AggregateEvents: []es.AggregateEventConfig{
			{EventType: "state", Operation: es.OperationCreate, Construct: func(map[string]interface{}) (map[string]interface{}, error) { return nil, nil }},
		},
	}
	_, err := aggregate.New(cfg, aggregate.Deps{CreateEventID: func() string { return "x" }})
	require.Error(t, err)
}

// failingEventsRepository wraps the in-memory repository and fails
// Create after a configured number of successful calls, to exercise
// the rollback-on-storage-failure path.
type failingEventsRepository struct {
	*memory.EventsRepository
	failAfter int32
	calls     int32
}

func (f *failingEventsRepository) Create(ctx context.Context, event es.Event) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n > f.failAfter {
		return errors.New("disk full")
	}
	return f.EventsRepository.Create(ctx, event)
}

func TestStore_StorageFailureRollsBackAndTerminatesBus(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	repo := &failingEventsRepository{EventsRepository: memory.NewEventsRepository(zaptest.NewLogger(t)), failAfter: 1}

	var terminated bool
	var termErr error
	b.OnTermination(func(err error) {
		terminated = true
		termErr = err
	})

	var counter int64
	store, err := aggregate.New(profileConfig(), aggregate.Deps{
		EventsRepository:    repo,
		AggregateRepository: memory.NewAggregateRepository(),
		Bus:                 b,
		CreateEventID: func() string {
			counter++
			return "evt-" + itoa(counter)
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	firstID, err := store.Create(context.Background(), "profile.create", map[string]interface{}{"name": "ok"})
	require.NoError(t, err)

	_, err = store.Create(context.Background(), "profile.create", map[string]interface{}{"name": "boom"})
	// ApplyEvent swallows persistence errors and routes them through
	// bus termination instead of returning them to the caller.
	require.NoError(t, err)

	assert.True(t, terminated)
	assert.Error(t, termErr)
	assert.True(t, b.Terminated())

	state := store.State()
	assert.Len(t, state, 1)
	_, ok := state[firstID]
	assert.True(t, ok)
}
