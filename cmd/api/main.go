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

	"github.com/wms-platform/shipment-service/internal/api"
	"github.com/wms-platform/shipment-service/internal/application"
	"github.com/wms-platform/shipment-service/internal/config"
	"github.com/wms-platform/shipment-service/internal/infrastructure/messaging"
	"github.com/wms-platform/shipment-service/internal/infrastructure/postgres"
	s3store "github.com/wms-platform/shipment-service/internal/infrastructure/s3"
	"github.com/wms-platform/shipment-service/pkg/cloudevents"
	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/middleware"
	"github.com/wms-platform/shipment-service/pkg/resilience"
	"github.com/wms-platform/shipment-service/pkg/tracing"
)

const serviceName = "shipment-service"

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

	logger.Info("Starting shipment-service API")
	ctx := context.Background()

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
		// Continue without tracing
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
	logger.Info("Connected to PostgreSQL")

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
	logger.Info("Label storage initialized", "bucket", cfg.S3.Bucket)

	// Kafka producer
	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.Kafka.Brokers
	kafkaConfig.ClientID = cfg.Kafka.ClientID
	kafkaConfig.AutoCreateTopics = cfg.Kafka.AutoCreateTopics

	producer := kafka.NewProducer(kafkaConfig, logger,
		kafka.WithMetrics(m),
		kafka.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("kafka-producer"), logger, m)),
	)
	defer producer.Close()
	logger.Info("Kafka producer initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)

	publisher := messaging.NewLabelPublisher(producer, cloudevents.NewEventFactory(cloudevents.SourceShipmentService), cfg.Kafka.Topic)

	service := application.NewShipmentService(store, labelStore, publisher, logger, m)

	// Setup Gin router with middleware
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	middlewareConfig := middleware.DefaultConfig(serviceName, logger, m)
	middlewareConfig.EnableTracing = cfg.Tracing.Enabled
	middleware.Setup(router, middlewareConfig)

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, map[string]func(ctx context.Context) error{
		"postgres": store.Ping,
	}))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	api.NewShipmentHandler(service, logger, cfg.HTTP.MaxLabelBytes).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server error")
			os.Exit(1)
		}
	}()
	logger.Info("Server started", "addr", cfg.HTTP.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}
