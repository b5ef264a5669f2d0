// Package pingconn implements es.ConnectionStatusAdapter by polling a
// websocket control connection: a live connection is opened lazily on
// each poll tick and closed immediately after, so the adapter never
// holds a long-lived socket open just to answer "are we online".
package pingconn

import (
	"context"
	"sync"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Adapter is an es.ConnectionStatusAdapter that pings url at most once
// per interval, rate-limited independently of its caller's polling
// frequency so a tight retry loop elsewhere in the process can't
// hammer the control connection.
type Adapter struct {
	url      string
	interval time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu          sync.RWMutex
	connected   bool
	known       bool
	subscribers map[int]func(bool, bool)
	nextSubID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Adapter that polls url every interval.
func New(url string, interval time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		url:         url,
		interval:    interval,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		logger:      logger,
		subscribers: make(map[int]func(bool, bool)),
	}
}

// Start begins the polling loop. Calling Start twice is a no-op.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.loop(loopCtx)
}

// Stop ends the polling loop.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *Adapter) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.limiter.Allow() {
				a.poll(ctx)
			}
		}
	}
}

func (a *Adapter) poll(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, a.interval/2)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, a.url, nil)
	connected := err == nil
	if connected {
		conn.Close()
	} else {
		a.logger.Debug("connectivity poll failed", zap.Error(err))
	}
	a.setStatus(connected)
}

func (a *Adapter) setStatus(connected bool) {
	a.mu.Lock()
	changed := !a.known || a.connected != connected
	a.connected = connected
	a.known = true
	var handlers []func(bool, bool)
	if changed {
		for _, h := range a.subscribers {
			handlers = append(handlers, h)
		}
	}
	a.mu.Unlock()

	for _, h := range handlers {
		h(connected, true)
	}
}

func (a *Adapter) Get(ctx context.Context) (connected bool, known bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected, a.known
}

func (a *Adapter) Subscribe(fn func(connected bool, known bool)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
}

var _ es.ConnectionStatusAdapter = (*Adapter)(nil)
