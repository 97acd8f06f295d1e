package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/shipment-service/internal/config"
	"github.com/wms-platform/shipment-service/internal/contracts"
	"github.com/wms-platform/shipment-service/internal/infrastructure/mongodb"
	"github.com/wms-platform/shipment-service/internal/infrastructure/postgres"
	s3store "github.com/wms-platform/shipment-service/internal/infrastructure/s3"
	"github.com/wms-platform/shipment-service/internal/worker"
	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/middleware"
	"github.com/wms-platform/shipment-service/pkg/resilience"
	"github.com/wms-platform/shipment-service/pkg/tracing"
)

const serviceName = "shipment-label-worker"

func main() {
	cfg, err := config.Load(serviceName, ".")
	if err != nil {
		logging.New(logging.DefaultConfig(serviceName)).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.ParseLevel(cfg.Logging.Level)
	logConfig.Environment = cfg.Service.Environment
	logConfig.Version = cfg.Service.Version
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting label worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.ServiceVersion = cfg.Service.Version
	tracingConfig.Environment = cfg.Service.Environment
	tracingConfig.OTLPEndpoint = cfg.Tracing.Endpoint
	tracingConfig.SampleRate = cfg.Tracing.SampleRate
	tracingConfig.Enabled = cfg.Tracing.Enabled

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
	}

	m := metrics.New(metrics.DefaultConfig(serviceName))

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, &postgres.Config{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		MinConns:       cfg.Postgres.MinConns,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to PostgreSQL")
		os.Exit(1)
	}
	defer pool.Close()

	store, err := postgres.NewShipmentStore(ctx, pool)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize shipment store")
		os.Exit(1)
	}

	// S3 label storage
	s3Client, err := s3store.NewClient(ctx, &s3store.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		UsePathStyle:    cfg.S3.UsePathStyle,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to create S3 client")
		os.Exit(1)
	}
	labelStore := s3store.NewLabelStore(s3Client, cfg.S3.Bucket, logger, m)

	// Kafka consumer; the producer re-enqueues and dead-letters
	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.Kafka.Brokers
	kafkaConfig.ConsumerGroup = cfg.Kafka.ConsumerGroup
	kafkaConfig.ClientID = cfg.Kafka.ClientID
	kafkaConfig.CommitInterval = cfg.Kafka.CommitInterval
	kafkaConfig.AutoCreateTopics = cfg.Kafka.AutoCreateTopics

	producer := kafka.NewProducer(kafkaConfig, logger,
		kafka.WithMetrics(m),
		kafka.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("kafka-producer"), logger, m)),
	)
	defer producer.Close()

	consumer := kafka.NewConsumer(kafkaConfig, cfg.Kafka.Topic, producer, m, logger)
	defer consumer.Close()
	logger.Info("Kafka consumer initialized",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.ConsumerGroup,
	)

	validator, err := contracts.NewEventValidator()
	if err != nil {
		logger.WithError(err).Error("Failed to load message contracts")
		os.Exit(1)
	}

	processor := worker.NewProcessor(
		store,
		labelStore,
		validator,
		worker.DelayProcessor{Delay: cfg.Worker.ProcessingDelay},
		&worker.Config{
			MaxDeliveryCount: cfg.Worker.MaxDeliveryCount,
			MessageTimeout:   cfg.Worker.MessageTimeout,
		},
		logger,
		m,
	)

	readiness := map[string]func(ctx context.Context) error{
		"postgres": store.Ping,
	}

	var runnerOpts []worker.RunnerOption
	if cfg.Mongo.Enabled {
		mongoClient, err := mongodb.NewClient(ctx, &mongodb.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    10,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to connect to MongoDB")
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Close(closeCtx)
		}()

		inbox := mongodb.NewInbox(mongoClient.Database(), cfg.Kafka.ConsumerGroup, cfg.Mongo.InboxTTL)
		if err := inbox.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Error("Failed to create inbox indexes")
			os.Exit(1)
		}
		runnerOpts = append(runnerOpts, worker.WithInbox(inbox))
		readiness["mongodb"] = mongoClient.HealthCheck
		logger.Info("Inbox enabled", "database", cfg.Mongo.Database)
	}

	// Ops endpoints
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, readiness))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	opsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Ops server error")
		}
	}()
	logger.Info("Ops server started", "addr", cfg.Worker.MetricsAddr)

	runner := worker.NewRunner(consumer, processor, logger, m, runnerOpts...)
	if err := runner.Run(ctx); err != nil {
		logger.WithError(err).Error("Label worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Ops server forced to shutdown")
	}

	logger.Info("Label worker stopped")
}
