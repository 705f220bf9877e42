package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"todo-api/internal/auth"
	"todo-api/internal/cache"
	"todo-api/internal/config"
	"todo-api/internal/events"
	apphttp "todo-api/internal/http"
	"todo-api/internal/repository/sqlstore"
	"todo-api/internal/service"
	"todo-api/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.Database.Path
	if cfg.Database.Driver == "postgres" {
		dsn = cfg.Database.URL
	}
	db, err := sqlstore.Open(cfg.Database.Driver, dsn, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlstore.NewUserRepository(db)
	todoRepo := sqlstore.NewTodoRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := todoRepo.Init(ctx); err != nil {
		logger.Fatalf("init todo repository: %v", err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.TokenTTL(), cfg.Auth.Issuer)
	if err != nil {
		logger.Fatalf("setup tokens: %v", err)
	}

	publisher := buildPublisher(ctx, cfg, logger)

	todoOpts := []service.TodoOption{service.WithPublisher(publisher)}
	todoCache := buildCache(ctx, cfg, logger)
	if todoCache != nil {
		todoOpts = append(todoOpts, service.WithCache(todoCache))
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	userService := service.NewUserService(userRepo, tokens, publisher, logger)
	todoService := service.NewTodoService(todoRepo, logger, todoOpts...)
	exportService := service.NewExportService(todoService, storageSvc, service.ExportConfig{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
		URLExpiry: cfg.ExportURLExpiry(),
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, todoService, exportService, tokens, db, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s (%s database)", cfg.Server.Addr, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Warnf("close event publisher: %v", err)
	}
	if todoCache != nil {
		if err := todoCache.Close(); err != nil {
			logger.Warnf("close redis client: %v", err)
		}
	}

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// buildCache returns nil when no Redis URL is configured or Redis is unreachable.
// A non-nil cache owns its client and is closed on shutdown.
func buildCache(ctx context.Context, cfg config.Config, logger *logrus.Logger) *cache.TodoCache {
	if cfg.Cache.RedisURL == "" {
		logger.Info("redis cache disabled")
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := cache.NewClient(pingCtx, cfg.Cache.RedisURL)
	if err != nil {
		logger.Warnf("redis unavailable, running without cache: %v", err)
		return nil
	}
	logger.Infof("redis cache enabled (ttl %s)", cfg.CacheTTL())
	return cache.NewTodoCache(rdb, cfg.CacheTTL())
}

// buildPublisher wraps the Kafka writer in a started dispatcher; the caller
// closes it after the HTTP server has drained.
func buildPublisher(ctx context.Context, cfg config.Config, logger *logrus.Logger) events.Publisher {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		logger.Info("event publishing disabled")
		return events.Nop{}
	}
	events.EnsureTopic(brokers, cfg.Events.Topic, cfg.Events.Partitions, logger)
	logger.Infof("publishing events to kafka topic %s", cfg.Events.Topic)
	dispatcher := events.NewDispatcher(events.DispatcherConfig{
		Workers:   2,
		QueueSize: 1024,
		Logger:    logger,
	}, events.NewKafkaPublisher(brokers, cfg.Events.Topic))
	dispatcher.Start(ctx)
	return dispatcher
}

// buildStorage returns a nil service when no bucket is configured; exports
// then answer 503.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("export storage disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
