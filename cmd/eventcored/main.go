// Command eventcored runs a demo aggregate store wired through the
// full broker/bus/adapter stack behind a small admin HTTP surface, the
// way the teacher's cmd/*/main.go entrypoints bootstrap an fx
// application graph around a gin router.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/abdoElHodaky/eventcore/adapters/jwtauth"
	"github.com/abdoElHodaky/eventcore/adapters/memory"
	"github.com/abdoElHodaky/eventcore/adapters/natsserver"
	"github.com/abdoElHodaky/eventcore/adapters/pingconn"
	"github.com/abdoElHodaky/eventcore/adapters/postgres"
	"github.com/abdoElHodaky/eventcore/adapters/validator"
	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/aggregate"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/broker"
	"github.com/abdoElHodaky/eventcore/internal/eventsourcing/projection"
	cfgpkg "github.com/abdoElHodaky/eventcore/pkg/config"
	"github.com/abdoElHodaky/eventcore/pkg/idgen"
	"github.com/abdoElHodaky/eventcore/pkg/logging"
	"github.com/abdoElHodaky/eventcore/pkg/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Directory containing config.yaml")
	flag.Parse()

	app := fx.New(
		fx.Provide(
			func() (*cfgpkg.Config, error) { return cfgpkg.Load(*configPath) },
			func(cfg *cfgpkg.Config) (*zap.Logger, error) { return logging.New(cfg.Env) },
			func() *metrics.Metrics { return metrics.New(prometheus.DefaultRegisterer) },
			newEventsRepository,
			newAggregateRepository,
			newAuthAdapter,
			newConnectivityAdapter,
			newEventServerAdapter,
			newValidator,
			newBroker,
			newProfileStore,
			newProjectionManager,
			newGinEngine,
		),
		fx.Invoke(
			registerRoutes,
			startConnectivity,
			startProjections,
		),
	)

	app.Run()
}

func newEventsRepository(logger *zap.Logger) es.EventsRepository {
	return memory.NewEventsRepository(logger)
}

func newAggregateRepository(cfg *cfgpkg.Config, logger *zap.Logger) es.AggregateRepository {
	if cfg.Postgres.DSN == "" {
		return memory.NewAggregateRepository()
	}
	db, err := postgres.Open(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	ttl := time.Duration(cfg.Postgres.SnapshotCacheTTLSeconds) * time.Second
	repo, err := postgres.NewAggregateRepository(db, logger, ttl)
	if err != nil {
		logger.Fatal("failed to build postgres aggregate repository", zap.Error(err))
	}
	return repo
}

func newAuthAdapter(cfg *cfgpkg.Config) es.AuthAdapter {
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = []byte("eventcore-dev-secret")
	}
	return jwtauth.New(secret, idgen.NewDeviceID())
}

func newConnectivityAdapter(cfg *cfgpkg.Config, logger *zap.Logger) es.ConnectionStatusAdapter {
	if cfg.Connectivity.PingURL == "" {
		return nil
	}
	interval := time.Duration(cfg.Connectivity.PollIntervalMS) * time.Millisecond
	return pingconn.New(cfg.Connectivity.PingURL, interval, logger)
}

func startConnectivity(lc fx.Lifecycle, adapter es.ConnectionStatusAdapter) {
	pinger, ok := adapter.(*pingconn.Adapter)
	if !ok {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pinger.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pinger.Stop()
			return nil
		},
	})
}

func newEventServerAdapter(cfg *cfgpkg.Config, logger *zap.Logger) es.EventServerAdapter {
	if cfg.NATS.URL == "" {
		return nil
	}
	adapter, err := natsserver.Connect(natsserver.Config{
		URLs:       []string{cfg.NATS.URL},
		StreamName: cfg.NATS.Stream,
	}, logger)
	if err != nil {
		logger.Warn("failed to connect to NATS, running without a server adapter", zap.Error(err))
		return nil
	}
	return adapter
}

// profileCreatePayload is the schema registered against profile.create
// events: Name is required, mirroring a typical onboarding form.
type profileCreatePayload struct {
	Name string `json:"name" validate:"required"`
}

func newValidator() es.Validator {
	v := validator.New()
	v.Register("profile.create", profileCreatePayload{})
	return v
}

func newBroker(cfg *cfgpkg.Config, logger *zap.Logger, m *metrics.Metrics, auth es.AuthAdapter, eventsRepo es.EventsRepository, server es.EventServerAdapter, conn es.ConnectionStatusAdapter, v es.Validator) *broker.Broker {
	return broker.New(broker.Config{
		AuthAdapter:             auth,
		CreateEventID:           idgen.NewEventID,
		EventsRepository:        eventsRepo,
		EventServerAdapter:      server,
		ConnectionStatusAdapter: conn,
		Validator:               v,
		RetrySyncInterval:       cfg.RetrySyncInterval(),
		Logger:                  logger,
		Metrics:                 m,
	})
}

func newProfileStore(b *broker.Broker, aggregateRepo es.AggregateRepository) (*aggregate.Store, error) {
	builderCfg, err := cfgpkg.Aggregate("profile").
		WithRepository(aggregateRepo).
		OnCreate("profile.create", func(payload map[string]interface{}) (map[string]interface{}, error) {
			return payload, nil
		}, nil).
		OnUpdate("profile.update", func(current, payload map[string]interface{}) (map[string]interface{}, error) {
			next := make(map[string]interface{}, len(current)+len(payload))
			for k, v := range current {
				next[k] = v
			}
			for k, v := range payload {
				next[k] = v
			}
			return next, nil
		}, nil).
		Build()
	if err != nil {
		return nil, err
	}

	return b.Register(builderCfg)
}

func newProjectionManager(b *broker.Broker, logger *zap.Logger) *projection.Manager {
	return projection.New(b.Bus(), logger)
}

func startProjections(m *projection.Manager) {
	m.Start()
}

func newGinEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	return r
}

func registerRoutes(lc fx.Lifecycle, cfg *cfgpkg.Config, logger *zap.Logger, router *gin.Engine, b *broker.Broker, store *aggregate.Store) {
	router.Use(rateLimitMiddleware(cfg.Admin.RateLimitPerMinute, logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "bus_terminated": b.Bus().Terminated()})
	})

	router.POST("/sync", func(c *gin.Context) {
		if err := b.Sync(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "synced"})
	})

	router.GET("/aggregates/profile", func(c *gin.Context) {
		c.JSON(http.StatusOK, store.State())
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("admin HTTP server stopped with error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
