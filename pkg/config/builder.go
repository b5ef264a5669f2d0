package config

import (
	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
)

// AggregateBuilder assembles an es.AggregateConfig fluently, the way
// an embedding application's own configuration glue is expected to
// per the core's external-interfaces contract: the core only consumes
// the finished AggregateConfig, never this builder.
type AggregateBuilder struct {
	cfg es.AggregateConfig
}

// Aggregate starts a builder for aggregateType.
func Aggregate(aggregateType string) *AggregateBuilder {
	return &AggregateBuilder{cfg: es.AggregateConfig{AggregateType: aggregateType}}
}

// WithRepository sets the snapshot repository.
func (b *AggregateBuilder) WithRepository(repo es.AggregateRepository) *AggregateBuilder {
	b.cfg.AggregateRepository = repo
	return b
}

// WithIDGenerator overrides how new aggregate ids are minted.
func (b *AggregateBuilder) WithIDGenerator(fn func() string) *AggregateBuilder {
	b.cfg.CreateAggregateID = fn
	return b
}

// WithDefaultDispatchPolicy sets the policy applied to events that
// don't configure their own.
func (b *AggregateBuilder) WithDefaultDispatchPolicy(policy es.DispatchPolicy) *AggregateBuilder {
	b.cfg.DefaultDispatchPolicy = policy
	return b
}

// OnCreate registers a create event.
func (b *AggregateBuilder) OnCreate(eventType string, construct es.Construct, policy es.DispatchPolicy) *AggregateBuilder {
	b.cfg.AggregateEvents = append(b.cfg.AggregateEvents, es.AggregateEventConfig{
		AggregateType:  b.cfg.AggregateType,
		EventType:      eventType,
		Operation:      es.OperationCreate,
		Construct:      construct,
		DispatchPolicy: policy,
	})
	return b
}

// OnUpdate registers an update event.
func (b *AggregateBuilder) OnUpdate(eventType string, reduce es.Reduce, policy es.DispatchPolicy) *AggregateBuilder {
	b.cfg.AggregateEvents = append(b.cfg.AggregateEvents, es.AggregateEventConfig{
		AggregateType:  b.cfg.AggregateType,
		EventType:      eventType,
		Operation:      es.OperationUpdate,
		Reduce:         reduce,
		DispatchPolicy: policy,
	})
	return b
}

// OnDelete registers a delete event. destruct may be nil.
func (b *AggregateBuilder) OnDelete(eventType string, destruct es.Destruct, policy es.DispatchPolicy) *AggregateBuilder {
	b.cfg.AggregateEvents = append(b.cfg.AggregateEvents, es.AggregateEventConfig{
		AggregateType:  b.cfg.AggregateType,
		EventType:      eventType,
		Operation:      es.OperationDelete,
		Destruct:       destruct,
		DispatchPolicy: policy,
	})
	return b
}

// Build validates restricted names and returns the finished config.
func (b *AggregateBuilder) Build() (es.AggregateConfig, error) {
	for _, ec := range b.cfg.AggregateEvents {
		if es.IsRestrictedName(ec.EventType) {
			return es.AggregateConfig{}, es.NewError("config.Build", es.KindInvalidInput,
				"event type collides with a restricted store method name: "+ec.EventType, nil)
		}
	}
	return b.cfg, nil
}
