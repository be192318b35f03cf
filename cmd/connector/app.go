package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"connector/internal/broker"
	"connector/internal/config"
	"connector/internal/config_handler"
	"connector/internal/confirmation"
	"connector/internal/constants"
	"connector/internal/link"
	"connector/internal/link/kafkalink"
	"connector/internal/lock"
	"connector/internal/logger"
	"connector/internal/management"
	"connector/internal/messages"
	"connector/internal/processing"
	"connector/internal/routing"
	"connector/internal/transport"
	"connector/pkg/bootstrap"
	"connector/pkg/circuitbreaker"
	"connector/pkg/health"
	"connector/pkg/logging"
	"connector/pkg/metrics"
	"connector/pkg/middleware"
	"connector/pkg/migrations"
	"connector/pkg/ratelimit"
	"connector/pkg/tracing"
)

const serviceName = "connector"

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client
	mongoDB     *mongo.Database

	queues     broker.Queues
	locker     *lock.Locker
	rules      *routing.RuleManager
	registry   *link.Registry
	links      *link.Bootstrapper
	scheduler  *link.PullScheduler
	processing *processing.Service
	timeouts   *confirmation.TimeoutChecker
	configs    *config_handler.Handler

	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		queues:      broker.NewQueues(cfg.Broker.Kafka),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, serviceName)

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterConnectorMetrics()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.links.Start(ctx); err != nil {
		return fmt.Errorf("failed to start link partners: %w", err)
	}

	return a.initHTTPServer(ctx)
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.Up(db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	if a.Config.Links.LoadDBConfig {
		client, mongoDB, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		if mongoDB == nil {
			return fmt.Errorf("links.load_db_config requires database.mongodb.uri")
		}
		if err := migrations.EnsureMongoCollection(ctx, mongoDB); err != nil {
			return err
		}
		a.mongoClient = client
		a.mongoDB = mongoDB
	}
	return nil
}

func (a *App) lockStore(ctx context.Context) lock.Store {
	if a.redis == nil {
		a.Logger.WarnwCtx(ctx, "No redis configured, message locks are local to this instance")
		return lock.NewMemoryStore()
	}

	var store lock.Store = lock.NewRedisStore(a.redis)
	if cb := circuitbreaker.FromConfig("redis-lock", a.Config.CircuitBreaker); cb != nil {
		store = lock.NewCircuitBreakerStore(store, cb)
	}
	return store
}

func (a *App) initServices(ctx context.Context) error {
	cfg := a.Config
	domain := cfg.Processing.DefaultBusinessDomain
	if domain == "" {
		domain = constants.DefaultBusinessDomain
	}

	msgs := messages.NewRepository(a.db)
	a.locker = lock.NewLocker(a.lockStore(ctx), cfg.Lock, a.Logger)

	rules, err := routing.NewRuleManager(routing.NewRepository(a.db), cfg.Routing, domain, a.Logger)
	if err != nil {
		return err
	}
	a.rules = rules

	a.scheduler = link.NewPullScheduler(a.Logger)
	plugins := []link.Plugin{kafkalink.New(cfg.Links.Kafka, cfg.Broker.Kafka, a.Logger)}
	a.registry = link.NewRegistry(plugins, a.scheduler, cfg.Links, cfg.CircuitBreaker, a.Logger)
	a.registry.SetReceiver(processing.NewReceiver(a.Producer, a.queues))

	var linkRepo link.ConfigRepository
	if a.mongoDB != nil {
		linkRepo = link.NewMongoConfigRepository(a.mongoDB)
	}
	a.links = link.NewBootstrapper(a.registry, linkRepo, cfg.Links, a.Logger)

	router := routing.NewService(rules, msgs, cfg.Routing, a.registry, domain, a.Logger)
	lifecycle := confirmation.NewLifecycle(msgs, cfg.Evidence, a.Logger)

	steps := transport.NewRepository(a.db)
	state := transport.NewStateService(steps, msgs, a.locker, a.Logger)
	dispatcher := transport.NewDispatcher(a.registry, steps, state, a.Logger)

	a.processing = processing.NewService(msgs, router, lifecycle, dispatcher, a.Producer, a.queues, a.locker, cfg.Processing, a.Logger)
	a.timeouts = confirmation.NewTimeoutChecker(msgs, lifecycle, a.locker, a.processing, cfg.Evidence, a.Logger)
	a.configs = config_handler.NewHandlerWithReloader(rules, a.Logger).WithLinks(linkController{a.links, a.registry})

	if cfg.Management.Enabled {
		a.initManagement(msgs, steps)
	}
	return nil
}

// linkController activates through the bootstrapper so configurations are
// resolved the same way as at startup.
type linkController struct {
	*link.Bootstrapper
	registry *link.Registry
}

func (c linkController) ShutdownLinkPartner(ctx context.Context, name string) error {
	return c.registry.ShutdownLinkPartner(ctx, name)
}

func (a *App) initManagement(msgs messages.Repository, steps transport.Repository) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.BusinessDomainMiddleware(a.Config.Processing.DefaultBusinessDomain))
	if a.Config.Tracing.Enabled {
		router.Use(tracing.SpanAttributesMiddleware())
	}

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.Management.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(context.Background(), rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	svc := management.NewService(a.rules, a.links, a.registry, msgs, steps, a.Logger,
		management.WithConfigEvents(management.NewConfigEventProducer(a.Producer, a.Config.Broker.Kafka.ConfigUpdateTopic)),
		management.WithAudit(management.NewAuditLogger(a.db)),
		management.WithDeadLetters(broker.NewDLQManager(a.Config.Broker.Kafka, a.Producer, a.Logger)),
	)
	management.NewHandler(svc, a.Logger).RegisterRoutes(router)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	a.registerOps(router)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}
}

// initHTTPServer serves health and metrics when the management API is off.
func (a *App) initHTTPServer(context.Context) error {
	if a.server != nil {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	a.registerOps(router)

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
	return nil
}

func (a *App) registerOps(router *gin.Engine) {
	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		healthRegistry.RegisterOptional(health.NewMongoDBChecker(a.mongoClient))
	}
	healthRegistry.RegisterOptional(health.NewFuncChecker("link_partners", func(context.Context) error {
		if len(a.registry.ActivePartners()) == 0 {
			return fmt.Errorf("no active link partners")
		}
		return nil
	}))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	runCtx := logging.WithServiceName(gCtx, serviceName)

	g.Go(func() error {
		a.Logger.InfowCtx(runCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	handlers := map[string]broker.HandlerFunc{
		a.queues.ToConnector: a.processing.HandleToConnector,
		a.queues.ToLink:      a.processing.HandleToLink,
		a.queues.Cleanup:     a.processing.HandleCleanup,
	}
	for topic, handler := range handlers {
		g.Go(func() error {
			return a.Consumer.Consume(runCtx, topic, handler)
		})
	}

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		g.Go(func() error {
			a.Logger.InfowCtx(runCtx, "Starting config update event consumer", "topic", topic)
			return a.ConfigConsumer.Consume(runCtx, topic, a.configs.HandleConfigUpdateEvent)
		})
	}

	g.Go(func() error {
		return ignoreCanceled(a.rules.StartReloader(runCtx))
	})
	g.Go(func() error {
		return ignoreCanceled(a.timeouts.Start(runCtx))
	})
	g.Go(func() error {
		return a.scheduler.Run(runCtx)
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down connector")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.registry != nil {
			if err := a.registry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("link registry shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	err := a.Base.Shutdown(ctx, additionalShutdown)
	if dbErrs := a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient); len(dbErrs) > 0 {
		err = stderrors.Join(append([]error{err}, dbErrs...)...)
	}
	return err
}
