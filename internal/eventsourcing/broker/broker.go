// Package broker implements the Broker: the coordinator that owns the
// event bus, registers aggregate stores, records locally-dispatched
// events to the server, fetches remote events, and runs the
// retry/connection-driven sync loop.
package broker

import (
	"context"
	"sync"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/aggregate"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/bus"
	"github.com/abdoElHodaky/eventcore/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultRetrySyncInterval = 300 * time.Second

// Config is the broker's construction parameters (§4.3).
type Config struct {
	AuthAdapter             es.AuthAdapter
	CreateEventID           func() string
	DefaultDispatchPolicy   es.DispatchPolicy
	EventsRepository        es.EventsRepository
	EventServerAdapter      es.EventServerAdapter
	ConnectionStatusAdapter es.ConnectionStatusAdapter
	Validator               es.Validator // optional, shared across every registered store
	RetrySyncInterval       time.Duration
	OnTermination           func(error)
	Logger                  *zap.Logger
	Metrics                 *metrics.Metrics // optional
}

// Broker owns the bus, the registered stores, the server adapters, and
// the sync loop.
type Broker struct {
	cfg    Config
	logger *zap.Logger
	bus    *bus.Bus

	mu     sync.RWMutex
	stores map[string]*aggregate.Store

	sf singleflight.Group

	unsubRecord  func()
	unsubPush    func()
	unsubConn    func()
	loopCancel   context.CancelFunc
	loopDone     chan struct{}
}

// New constructs a Broker: it creates a bus, wires onTermination,
// subscribes the record-on-dispatch handler, and starts the sync loop.
func New(cfg Config) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetrySyncInterval <= 0 {
		cfg.RetrySyncInterval = defaultRetrySyncInterval
	}
	if cfg.DefaultDispatchPolicy == nil {
		cfg.DefaultDispatchPolicy = es.AllowAll
	}

	b := &Broker{
		cfg:    cfg,
		logger: cfg.Logger,
		bus:    bus.New(cfg.Logger),
		stores: make(map[string]*aggregate.Store),
	}

	b.bus.OnTermination(func(err error) {
		b.logger.Warn("event bus terminated", zap.Error(err))
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.BusTerminations.Inc()
		}
		if cfg.OnTermination != nil {
			cfg.OnTermination(err)
		}
	})

	b.unsubRecord = b.bus.Subscribe(b.recordEvent)

	if subscriber, ok := cfg.EventServerAdapter.(es.EventServerSubscriber); ok {
		b.unsubPush = subscriber.Subscribe(b.handlePush)
	}

	b.startSyncLoop()

	return b
}

// Bus exposes the shared event bus, primarily for external subscribers
// and tests.
func (b *Broker) Bus() *bus.Bus { return b.bus }

// Register instantiates an Aggregate Store for cfg, wired to the
// broker's shared bus and collaborators, and indexes it by
// aggregateType.
func (b *Broker) Register(cfg es.AggregateConfig) (*aggregate.Store, error) {
	if cfg.DefaultDispatchPolicy == nil {
		cfg.DefaultDispatchPolicy = b.cfg.DefaultDispatchPolicy
	}

	store, err := aggregate.New(cfg, aggregate.Deps{
		EventsRepository:    b.cfg.EventsRepository,
		AggregateRepository: cfg.AggregateRepository,
		AuthAdapter:         b.cfg.AuthAdapter,
		Validator:           b.cfg.Validator,
		Bus:                 b.bus,
		CreateEventID:       b.cfg.CreateEventID,
		Logger:              b.logger,
		Metrics:             b.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.stores[cfg.AggregateType] = store
	b.mu.Unlock()

	return store, nil
}

func (b *Broker) storeFor(aggregateType string) (*aggregate.Store, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.stores[aggregateType]
	return s, ok
}

// recordEvent is the bus subscriber described in §4.3.2: it attempts
// to record every event it observes that has no RecordedAt. Both
// "not logged in" and "record failed" leave the event unrecorded for
// the next sync cycle; neither condition is treated as a bus error.
func (b *Broker) recordEvent(event es.Event) error {
	if event.RecordedAt != nil {
		return nil
	}
	ctx := context.Background()

	if b.cfg.AuthAdapter == nil || b.cfg.EventServerAdapter == nil {
		return nil
	}
	account, hasAccount, err := b.cfg.AuthAdapter.GetAccount(ctx)
	if err != nil || !hasAccount {
		return nil
	}
	if event.CreatedBy == "" {
		event.CreatedBy = account.ID
	}

	recorded, err := b.cfg.EventServerAdapter.Record(ctx, event)
	if err != nil {
		b.logger.Debug("record failed, will retry on next sync", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	store, ok := b.storeFor(event.AggregateType)
	if !ok {
		return nil
	}
	if err := store.MarkRecorded(ctx, recorded); err != nil {
		b.logger.Error("markRecorded failed after server record", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.EventsRecorded.WithLabelValues(event.AggregateType).Inc()
	}
	return nil
}

func (b *Broker) handlePush(event es.Event) {
	store, ok := b.storeFor(event.AggregateType)
	if !ok {
		return
	}
	if err := store.ApplyEvent(context.Background(), event); err != nil {
		b.logger.Error("failed to apply pushed event", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// Sync is single-flight: concurrent calls share the in-flight
// execution and its result.
func (b *Broker) Sync(ctx context.Context) error {
	_, err, _ := b.sf.Do("sync", func() (interface{}, error) {
		return nil, b.doSync(ctx)
	})
	return err
}

func (b *Broker) doSync(ctx context.Context) error {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.SyncCycles.Inc()
		start := time.Now()
		defer func() { b.cfg.Metrics.SyncDuration.Observe(time.Since(start).Seconds()) }()
	}

	if b.cfg.EventsRepository != nil && b.cfg.EventServerAdapter != nil {
		unrecorded, err := b.cfg.EventsRepository.GetUnrecorded(ctx)
		if err != nil {
			return es.NewError("broker.Sync", es.KindStorage, "failed to list unrecorded events", err)
		}
		var wg sync.WaitGroup
		for _, event := range unrecorded {
			event := event
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = b.recordEvent(event)
			}()
		}
		wg.Wait()
	}

	if b.cfg.EventServerAdapter == nil || b.cfg.EventsRepository == nil {
		return nil
	}

	deviceID := ""
	if b.cfg.AuthAdapter != nil {
		if id, err := b.cfg.AuthAdapter.GetDeviceID(ctx); err == nil {
			deviceID = id
		}
	}

	afterID := ""
	if last, ok, err := b.cfg.EventsRepository.GetLastReceivedEvent(ctx, deviceID); err == nil && ok {
		afterID = last.ID
	}

	fetched, err := b.cfg.EventServerAdapter.Fetch(ctx, afterID)
	if err != nil {
		b.logger.Debug("fetch failed, will retry on next sync", zap.Error(err))
		return nil
	}

	for _, event := range fetched {
		store, ok := b.storeFor(event.AggregateType)
		if !ok {
			continue
		}
		if err := store.ApplyEvent(ctx, event); err != nil {
			b.logger.Error("failed to apply fetched event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	return nil
}

// startSyncLoop runs Sync whenever connection status transitions to
// true, or every RetrySyncInterval, throttled to at most one trigger
// per RetrySyncInterval/5 to avoid thrash during flapping
// connectivity.
func (b *Broker) startSyncLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	b.loopCancel = cancel
	b.loopDone = make(chan struct{})

	trigger := make(chan struct{}, 1)
	signal := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	if b.cfg.ConnectionStatusAdapter != nil {
		b.unsubConn = b.cfg.ConnectionStatusAdapter.Subscribe(func(connected bool, known bool) {
			if known && connected {
				signal()
			}
		})
	}

	go func() {
		defer close(b.loopDone)

		limiter := rate.NewLimiter(rate.Every(b.cfg.RetrySyncInterval/5), 1)
		ticker := time.NewTicker(b.cfg.RetrySyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				signal()
			case <-trigger:
				if !limiter.Allow() {
					continue
				}
				if err := b.Sync(ctx); err != nil {
					b.logger.Debug("sync cycle failed", zap.Error(err))
				}
			}
		}
	}()
}

// Reset tears down subscriptions and the sync loop, deletes all events
// from the event repository, resets the bus, resets every store, then
// reinitializes subscriptions.
func (b *Broker) Reset(ctx context.Context) error {
	b.Cleanup()

	if b.cfg.EventsRepository != nil {
		if err := b.cfg.EventsRepository.DeleteAll(ctx); err != nil {
			return es.NewError("broker.Reset", es.KindStorage, "failed to delete events", err)
		}
	}

	b.bus.Reset()

	b.mu.RLock()
	stores := make([]*aggregate.Store, 0, len(b.stores))
	for _, s := range b.stores {
		stores = append(stores, s)
	}
	b.mu.RUnlock()
	for _, s := range stores {
		s.Reset()
	}

	b.unsubRecord = b.bus.Subscribe(b.recordEvent)
	if subscriber, ok := b.cfg.EventServerAdapter.(es.EventServerSubscriber); ok {
		b.unsubPush = subscriber.Subscribe(b.handlePush)
	}
	b.startSyncLoop()

	return nil
}

// Cleanup unsubscribes from server push and stops the sync loop; data
// is left intact.
func (b *Broker) Cleanup() {
	if b.unsubRecord != nil {
		b.unsubRecord()
		b.unsubRecord = nil
	}
	if b.unsubPush != nil {
		b.unsubPush()
		b.unsubPush = nil
	}
	if b.unsubConn != nil {
		b.unsubConn()
		b.unsubConn = nil
	}
	if b.loopCancel != nil {
		b.loopCancel()
		<-b.loopDone
		b.loopCancel = nil
	}
}
