package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abdoElHodaky/eventcore/adapters/memory"
	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/aggregate"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeAuth is a minimal es.AuthAdapter test double whose account can
// be flipped at runtime to exercise the deferred-authorship path.
type fakeAuth struct {
	mu       sync.Mutex
	deviceID string
	account  es.Account
	has      bool
}

func (f *fakeAuth) GetDeviceID(ctx context.Context) (string, error) { return f.deviceID, nil }

func (f *fakeAuth) GetAccount(ctx context.Context) (es.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, f.has, nil
}

func (f *fakeAuth) login(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = es.Account{ID: id}
	f.has = true
}

// fakeServer is a minimal es.EventServerAdapter test double. recordErr
// lets tests simulate transient network failures.
type fakeServer struct {
	mu        sync.Mutex
	recordErr error
	recorded  []es.Event
	fetchable []es.Event
	fetchCalls int
}

func (f *fakeServer) Record(ctx context.Context, event es.Event) (es.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return es.Event{}, f.recordErr
	}
	now := time.Now()
	event.RecordedAt = &now
	f.recorded = append(f.recorded, event)
	return event, nil
}

func (f *fakeServer) Fetch(ctx context.Context, afterEventID string) ([]es.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.fetchable, nil
}

func newProfileBroker(t *testing.T, server *fakeServer, auth *fakeAuth) (*broker.Broker, *aggregate.Store, *memory.EventsRepository) {
	t.Helper()
	eventsRepo := memory.NewEventsRepository(zaptest.NewLogger(t))

	var counter int
	b := broker.New(broker.Config{
		AuthAdapter:        auth,
		EventsRepository:   eventsRepo,
		EventServerAdapter: server,
		RetrySyncInterval:  50 * time.Millisecond,
		CreateEventID: func() string {
			counter++
			return "evt-" + time.Now().Format("150405.000000") + "-" + itoa(counter)
		},
		Logger: zaptest.NewLogger(t),
	})
	t.Cleanup(b.Cleanup)

	store, err := b.Register(es.AggregateConfig{
		AggregateType: "profile",
		AggregateEvents: []es.AggregateEventConfig{
			{
				EventType: "profile.create",
				Operation: es.OperationCreate,
				Construct: func(payload map[string]interface{}) (map[string]interface{}, error) { return payload, nil },
			},
			{
				EventType: "profile.update",
				Operation: es.OperationUpdate,
				Reduce: func(current, payload map[string]interface{}) (map[string]interface{}, error) {
					out := map[string]interface{}{}
					for k, v := range current {
						out[k] = v
					}
					for k, v := range payload {
						out[k] = v
					}
					return out, nil
				},
			},
		},
		AggregateRepository: memory.NewAggregateRepository(),
	})
	require.NoError(t, err)

	return b, store, eventsRepo
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestBroker_DeferredAuthorshipBackfillsOnSync(t *testing.T) {
	server := &fakeServer{}
	auth := &fakeAuth{deviceID: "device-1"}
	b, store, eventsRepo := newProfileBroker(t, server, auth)
	ctx := context.Background()

	id, err := store.Create(ctx, "profile.create", map[string]interface{}{"name": "x"})
	require.NoError(t, err)

	unrecorded, err := eventsRepo.GetUnrecorded(ctx)
	require.NoError(t, err)
	assert.Len(t, unrecorded, 1)
	assert.Empty(t, unrecorded[0].CreatedBy)

	auth.login("A2")
	require.NoError(t, b.Sync(ctx))

	unrecorded, err = eventsRepo.GetUnrecorded(ctx)
	require.NoError(t, err)
	assert.Empty(t, unrecorded)

	state := store.State()
	assert.Equal(t, "A2", state[id].CreatedBy)
}

func TestBroker_SyncRetriesAfterTransientNetworkFailure(t *testing.T) {
	server := &fakeServer{recordErr: errors.New("network down")}
	auth := &fakeAuth{deviceID: "device-1"}
	auth.login("A1")
	b, store, eventsRepo := newProfileBroker(t, server, auth)
	ctx := context.Background()

	_, err := store.Create(ctx, "profile.create", map[string]interface{}{"name": "x"})
	require.NoError(t, err)

	require.NoError(t, b.Sync(ctx))
	unrecorded, err := eventsRepo.GetUnrecorded(ctx)
	require.NoError(t, err)
	assert.Len(t, unrecorded, 1, "record failure must leave the event unrecorded for retry")

	server.mu.Lock()
	server.recordErr = nil
	server.mu.Unlock()

	require.NoError(t, b.Sync(ctx))
	unrecorded, err = eventsRepo.GetUnrecorded(ctx)
	require.NoError(t, err)
	assert.Empty(t, unrecorded)
}

func TestBroker_StartupSyncAppliesFetchedEvents(t *testing.T) {
	server := &fakeServer{}
	auth := &fakeAuth{deviceID: "device-2"}
	recordedAt := time.Now()
	server.fetchable = []es.Event{
		{ID: "E1", Operation: es.OperationCreate, AggregateType: "profile", AggregateID: "G", Type: "profile.create", Payload: map[string]interface{}{"name": "s"}, RecordedAt: &recordedAt, CreatedOn: "other-device"},
		{ID: "E2", Operation: es.OperationUpdate, AggregateType: "profile", AggregateID: "G", Type: "profile.update", Payload: map[string]interface{}{"name": "s2"}, PrevID: "E1", RecordedAt: &recordedAt, CreatedOn: "other-device"},
	}

	b, store, _ := newProfileBroker(t, server, auth)
	ctx := context.Background()

	require.NoError(t, b.Sync(ctx))

	state := store.State()
	assert.Equal(t, "s2", state["G"].Data["name"])
	assert.Equal(t, 1, server.fetchCalls)
}

func TestBroker_SyncIsSingleFlight(t *testing.T) {
	server := &fakeServer{}
	auth := &fakeAuth{deviceID: "device-1"}
	b, _, _ := newProfileBroker(t, server, auth)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Sync(ctx))
		}()
	}
	wg.Wait()
}
