package projection_test

import (
	"context"
	"testing"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/bus"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func countingProjection(name string, counts map[string]int) *projection.FuncProjection {
	return &projection.FuncProjection{
		ProjectionName: name,
		Handlers: map[string]func(ctx context.Context, event es.Event) error{
			"profile.create": func(ctx context.Context, event es.Event) error {
				counts[event.AggregateID]++
				return nil
			},
		},
		ResetFunc: func(ctx context.Context) error {
			for k := range counts {
				delete(counts, k)
			}
			return nil
		},
	}
}

func TestManager_StartReplaysBacklogThenLiveEvents(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	require.NoError(t, b.Dispatch(es.Event{ID: "e1", Type: "profile.create", AggregateID: "G1"}))

	counts := map[string]int{}
	m := projection.New(b, zaptest.NewLogger(t))
	require.NoError(t, m.Register(countingProjection("counts", counts)))
	m.Start()

	assert.Equal(t, 1, counts["G1"])

	require.NoError(t, b.Dispatch(es.Event{ID: "e2", Type: "profile.create", AggregateID: "G1"}))
	assert.Equal(t, 2, counts["G1"])
}

func TestManager_RebuildResetsAndReplaysOneProjectionOnly(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	require.NoError(t, b.Dispatch(es.Event{ID: "e1", Type: "profile.create", AggregateID: "G1"}))
	require.NoError(t, b.Dispatch(es.Event{ID: "e2", Type: "profile.create", AggregateID: "G1"}))

	countsA := map[string]int{}
	countsB := map[string]int{}
	m := projection.New(b, zaptest.NewLogger(t))
	require.NoError(t, m.Register(countingProjection("a", countsA)))
	require.NoError(t, m.Register(countingProjection("b", countsB)))
	m.Start()
	assert.Equal(t, 2, countsA["G1"])
	assert.Equal(t, 2, countsB["G1"])

	countsA["G1"] = 99
	require.NoError(t, m.Rebuild(context.Background(), "a"))
	assert.Equal(t, 2, countsA["G1"], "rebuild should reset then replay the full backlog")
	assert.Equal(t, 2, countsB["G1"], "rebuilding one projection must not disturb another")
}

func TestManager_RebuildUnknownProjectionFails(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	m := projection.New(b, zaptest.NewLogger(t))
	err := m.Rebuild(context.Background(), "missing")
	assert.ErrorIs(t, err, projection.ErrNotFound)
}

func TestManager_RegisterDuplicateNameFails(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	m := projection.New(b, zaptest.NewLogger(t))
	require.NoError(t, m.Register(countingProjection("a", map[string]int{})))
	err := m.Register(countingProjection("a", map[string]int{}))
	assert.ErrorIs(t, err, projection.ErrAlreadyRegistered)
}
