package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/septivank/water-flow-monitor/internal/api"
	"github.com/septivank/water-flow-monitor/internal/auth"
	"github.com/septivank/water-flow-monitor/internal/config"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/generator"
	"github.com/septivank/water-flow-monitor/internal/hub"
	"github.com/septivank/water-flow-monitor/internal/leak"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"github.com/septivank/water-flow-monitor/internal/mq"
	"github.com/septivank/water-flow-monitor/internal/mqttclient"
	"github.com/septivank/water-flow-monitor/internal/natsbus"
	"github.com/septivank/water-flow-monitor/internal/repository"
	"github.com/septivank/water-flow-monitor/internal/service"
	"github.com/septivank/water-flow-monitor/internal/threshold"
	"github.com/septivank/water-flow-monitor/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultContinuousFlowMinutes = 30
	requestTimeout               = 5 * time.Second
)

// ProvideStore selects the storage backend
func ProvideStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Store, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	pool, err := db.NewPool(lc, logger, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return repository.NewRepository(pool), nil
}

// ProvideHub creates the live connection registry
func ProvideHub(lc fx.Lifecycle, logger *zap.Logger) *hub.Hub {
	h := hub.New(logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			h.CloseAll()
			return nil
		},
	})
	return h
}

// ProvideFanout delivers domain events to live clients first, then mirrors
func ProvideFanout(h *hub.Hub, logger *zap.Logger) *events.Fanout {
	fanout := events.NewFanout(logger, h)
	fanout.OnError(func(event events.Envelope, err error) {
		metrics.IncPublishError(event.Type)
	})
	return fanout
}

// ProvideTracker creates the leak event tracker
func ProvideTracker(store repository.Store, fanout *events.Fanout, logger *zap.Logger) *leak.Tracker {
	return leak.NewTracker(store, fanout, logger)
}

// ProvideEvaluator creates the threshold evaluator
func ProvideEvaluator(cfg *config.Config) *threshold.Evaluator {
	return threshold.NewEvaluator(cfg.Leak.HighSeverityFactor)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Ingest.TimestampTolerance)
}

// ProvideMonitor creates the monitor service
func ProvideMonitor(
	store repository.Store,
	tracker *leak.Tracker,
	evaluator *threshold.Evaluator,
	validator *validator.Validator,
	fanout *events.Fanout,
	logger *zap.Logger,
) *service.Monitor {
	return service.NewMonitor(store, tracker, evaluator, validator, fanout, logger)
}

// ProvideAuthenticator creates the bearer token authenticator
func ProvideAuthenticator(cfg *config.Config) *auth.Authenticator {
	return auth.NewAuthenticator(cfg.Auth.JWTSecret)
}

// ProvideMQConnection dials RabbitMQ. It returns nil when no URL is configured.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("rabbitmq disabled, RABBITMQ_URL not set")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideGenerator creates the simulated reading source
func ProvideGenerator(monitor *service.Monitor, cfg *config.Config, logger *zap.Logger) *generator.Generator {
	return generator.New(monitor, monitor, generatorConfig(cfg), logger)
}

func generatorConfig(cfg *config.Config) generator.Config {
	baseFlows := make(map[string]float64, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if s.BaseFlow > 0 {
			baseFlows[s.Name] = s.BaseFlow
		}
	}
	return generator.Config{
		Interval:        cfg.Generator.Interval,
		LeakProbability: cfg.Generator.LeakProbability,
		BaseFlows:       baseFlows,
	}
}

func seedFromConfig(cfg *config.Config) repository.Seed {
	seed := repository.Seed{
		ContinuousFlowThreshold: defaultContinuousFlowMinutes,
		NightFlowMonitoring:     true,
	}
	for _, s := range cfg.Sensors {
		seed.Sensors = append(seed.Sensors, repository.SeedSensor{
			Name:         s.Name,
			Location:     s.Location,
			MaxThreshold: s.MaxThreshold,
		})
	}
	return seed
}

func seedStore(lc fx.Lifecycle, store repository.Store, cfg *config.Config, logger *zap.Logger) {
	seeder, ok := store.(repository.Seeder)
	if !ok {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := seeder.Seed(ctx, seedFromConfig(cfg)); err != nil {
				return err
			}
			logger.Info("storage ready", zap.Int("configured_sensors", len(cfg.Sensors)))
			return nil
		},
	})
}

func startEventMirrors(
	lc fx.Lifecycle,
	fanout *events.Fanout,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
) error {
	if conn != nil {
		publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
		if err != nil {
			return err
		}
		fanout.Add(publisher)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return publisher.Close()
			},
		})
		logger.Info("mirroring events to rabbitmq", zap.String("exchange", cfg.RabbitMQ.EventsExchange))
	}

	if cfg.NATS.URL != "" {
		publisher, err := natsbus.NewPublisher(lc, logger, cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.ServiceName)
		if err != nil {
			return err
		}
		fanout.Add(publisher)
		logger.Info("mirroring events to nats", zap.String("prefix", cfg.NATS.SubjectPrefix))
	}
	return nil
}

func startIngest(
	lc fx.Lifecycle,
	conn *mq.Connection,
	monitor *service.Monitor,
	cfg *config.Config,
	logger *zap.Logger,
) error {
	if conn != nil {
		consumer, err := mq.NewConsumer(mq.ConsumerConfig{
			Connection:    conn,
			Queue:         cfg.RabbitMQ.IngestQueue,
			DLQQueue:      cfg.RabbitMQ.DLQQueue,
			Exchange:      cfg.RabbitMQ.IngestExchange,
			RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
			PrefetchCount: cfg.RabbitMQ.PrefetchCount,
			Logger:        logger,
			Handler: func(ctx context.Context, body []byte) error {
				return monitor.IngestMessage(ctx, service.SourceQueue, body)
			},
		})
		if err != nil {
			return err
		}
		consumer.RegisterLifecycle(lc)
	}

	if cfg.MQTT.BrokerURL != "" {
		bridge := mqttclient.New(mqttclient.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
			Source:    service.SourceMQTT,
		}, monitor, logger)
		bridge.RegisterLifecycle(lc)
	}
	return nil
}

func startGenerator(lc fx.Lifecycle, g *generator.Generator) {
	g.RegisterLifecycle(lc)
}

func startHTTPServer(
	lc fx.Lifecycle,
	monitor *service.Monitor,
	h *hub.Hub,
	authn *auth.Authenticator,
	cfg *config.Config,
	logger *zap.Logger,
) {
	dispatcher := hub.NewDispatcher(monitor, cfg.Auth.LiveRequireActor, logger)
	router := api.NewRouter(
		api.NewHandler(monitor, logger, requestTimeout),
		authn,
		hub.NewEndpoint(h, dispatcher, authn, logger),
		logger,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
