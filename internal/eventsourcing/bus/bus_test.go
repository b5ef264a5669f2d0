package bus

import (
	"errors"
	"testing"

	"github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_DispatchOrderPreservedForSubscriber(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	var observed []string
	unsubscribe := b.Subscribe(func(event eventsourcing.Event) error {
		observed = append(observed, event.ID)
		return nil
	})
	defer unsubscribe()

	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e1"}))
	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e2"}))

	assert.Equal(t, []string{"e1", "e2"}, observed)
}

func TestBus_LateSubscriberReplaysThenForwards(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e1"}))

	var observed []string
	b.Subscribe(func(event eventsourcing.Event) error {
		observed = append(observed, event.ID)
		return nil
	})

	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e2"}))

	assert.Equal(t, []string{"e1", "e2"}, observed)
}

func TestBus_TerminateStopsDispatch(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	b.Terminate(nil)
	assert.True(t, b.Terminated())

	err := b.Dispatch(eventsourcing.Event{ID: "e1"})
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestBus_SubscriberErrorTerminatesBus(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	boom := errors.New("boom")
	var termErr error
	b.OnTermination(func(err error) { termErr = err })

	b.Subscribe(func(event eventsourcing.Event) error {
		return boom
	})

	err := b.Dispatch(eventsourcing.Event{ID: "e1"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, b.Terminated())
	assert.ErrorIs(t, termErr, boom)
}

func TestBus_OnTerminationFiresOnceAndLate(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	calls := 0
	b.OnTermination(func(err error) { calls++ })

	b.Terminate(nil)
	b.Terminate(nil) // idempotent, must not refire

	assert.Equal(t, 1, calls)

	// Registering after termination fires immediately.
	lateCalls := 0
	b.OnTermination(func(err error) { lateCalls++ })
	assert.Equal(t, 1, lateCalls)
}

func TestBus_ResetClearsReplayAndRevives(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e1"}))
	b.Terminate(errors.New("boom"))
	require.True(t, b.Terminated())

	b.Reset()
	assert.False(t, b.Terminated())

	var observed []string
	b.Subscribe(func(event eventsourcing.Event) error {
		observed = append(observed, event.ID)
		return nil
	})
	// Replay buffer was cleared by Reset, so the late subscriber sees
	// nothing until a new event is dispatched.
	assert.Empty(t, observed)

	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e2"}))
	assert.Equal(t, []string{"e2"}, observed)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	var observed []string
	unsubscribe := b.Subscribe(func(event eventsourcing.Event) error {
		observed = append(observed, event.ID)
		return nil
	})

	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e1"}))
	unsubscribe()
	require.NoError(t, b.Dispatch(eventsourcing.Event{ID: "e2"}))

	assert.Equal(t, []string{"e1"}, observed)
}
