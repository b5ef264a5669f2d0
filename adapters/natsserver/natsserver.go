// Package natsserver implements es.EventServerAdapter over NATS
// JetStream: Record publishes to a per-aggregate-type subject and
// Fetch replays from a durable consumer. Both calls are wrapped in a
// circuit breaker so a flapping server degrades to the broker's retry
// loop instead of blocking sync.
package natsserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	nats "github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config configures the adapter's connection and JetStream stream.
type Config struct {
	URLs        []string
	StreamName  string
	SubjectRoot string // events are published to SubjectRoot + "." + aggregateType
}

// Adapter is an es.EventServerAdapter over NATS JetStream.
type Adapter struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger *zap.Logger
	cb     *gobreaker.CircuitBreaker
}

// Connect dials urls, ensures the configured stream exists, and
// returns a ready Adapter.
func Connect(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "eventcore"
	}
	if cfg.SubjectRoot == "" {
		cfg.SubjectRoot = "eventcore.events"
	}

	conn, err := nats.Connect(joinURLs(cfg.URLs),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, es.NewError("natsserver.Connect", es.KindNetwork, "failed to connect to NATS", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, es.NewError("natsserver.Connect", es.KindNetwork, "failed to acquire JetStream context", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.SubjectRoot + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, es.NewError("natsserver.Connect", es.KindNetwork, "failed to create stream", err)
		}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "natsserver",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Adapter{conn: conn, js: js, cfg: cfg, logger: logger, cb: cb}, nil
}

func joinURLs(urls []string) string {
	if len(urls) == 0 {
		return nats.DefaultURL
	}
	return strings.Join(urls, ",")
}

func (a *Adapter) subject(aggregateType string) string {
	return a.cfg.SubjectRoot + "." + aggregateType
}

// Record publishes event to JetStream and echoes it back with
// RecordedAt set.
func (a *Adapter) Record(ctx context.Context, event es.Event) (es.Event, error) {
	now := time.Now()
	event.RecordedAt = &now

	payload, err := json.Marshal(event)
	if err != nil {
		return es.Event{}, es.NewError("natsserver.Record", es.KindInvalidInput, "failed to encode event", err)
	}

	_, err = a.cb.Execute(func() (interface{}, error) {
		return a.js.Publish(a.subject(event.AggregateType), payload, nats.Context(ctx))
	})
	if err != nil {
		return es.Event{}, es.NewError("natsserver.Record", es.KindNetwork, "publish failed", err)
	}

	return event, nil
}

// Fetch replays events published after afterEventID from the stream.
// NATS JetStream orders by sequence, not by application-level id, so
// the adapter scans from the stream start and skips until it observes
// afterEventID — acceptable for the bounded per-aggregate-type
// streams this adapter targets.
func (a *Adapter) Fetch(ctx context.Context, afterEventID string) ([]es.Event, error) {
	result, err := a.cb.Execute(func() (interface{}, error) {
		sub, err := a.js.PullSubscribe(a.cfg.SubjectRoot+".>", "eventcore-fetch", nats.BindStream(a.cfg.StreamName))
		if err != nil {
			return nil, err
		}
		defer sub.Unsubscribe()

		msgs, err := sub.Fetch(256, nats.Context(ctx))
		if err != nil && err != nats.ErrTimeout {
			return nil, err
		}

		var events []es.Event
		skipping := afterEventID != ""
		for _, msg := range msgs {
			var event es.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				continue
			}
			msg.Ack()
			if skipping {
				if event.ID == afterEventID {
					skipping = false
				}
				continue
			}
			events = append(events, event)
		}
		return events, nil
	})
	if err != nil {
		return nil, es.NewError("natsserver.Fetch", es.KindNetwork, "fetch failed", err)
	}

	events, _ := result.([]es.Event)
	return events, nil
}

// Close closes the underlying NATS connection without draining it.
func (a *Adapter) Close() {
	a.conn.Close()
}

var _ es.EventServerAdapter = (*Adapter)(nil)
