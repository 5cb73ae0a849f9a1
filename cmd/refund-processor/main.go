package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/returns-service/internal/application"
	"github.com/wms-platform/returns-service/internal/config"
	"github.com/wms-platform/returns-service/internal/domain"
	mongoRepo "github.com/wms-platform/returns-service/internal/infrastructure/mongodb"
	"github.com/wms-platform/returns-service/internal/infrastructure/platform"
	"github.com/wms-platform/returns-service/pkg/cloudevents"
	"github.com/wms-platform/returns-service/pkg/kafka"
	"github.com/wms-platform/returns-service/pkg/logging"
	"github.com/wms-platform/returns-service/pkg/metrics"
	"github.com/wms-platform/returns-service/pkg/mongodb"
	"github.com/wms-platform/returns-service/pkg/outbox"
	"github.com/wms-platform/returns-service/pkg/tracing"
)

const (
	serviceName  = "refund-processor"
	drainTimeout = 30 * time.Second
	pushTimeout  = 10 * time.Second
)

type mongoClient interface {
	Database() *mongo.Database
	HealthCheck(context.Context) error
	Close(context.Context) error
}

type kafkaProducer interface {
	outbox.EventPublisher
	Close() error
}

type outboxDrainer interface {
	Drain(context.Context) (outbox.DrainStats, error)
}

type queueRepository interface {
	domain.QueueRepository
	GetOutboxRepository() outbox.Repository
}

type platformClient interface {
	application.SalesOrderResolver
	application.OrderPlatformClient
}

type reconciler interface {
	Run(context.Context) (application.RunSummary, error)
}

var loadConfig = config.Load

var newMongoClient = func(ctx context.Context, cfg *mongodb.Config) (mongoClient, error) {
	client, err := mongodb.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var newInstrumentedKafkaProducer = func(cfg *kafka.Config, m *metrics.Metrics, logger *logging.Logger) kafkaProducer {
	producer := kafka.NewProducer(cfg)
	return kafka.NewInstrumentedProducer(producer, m, logger)
}

var newOutboxPublisher = func(repo outbox.Repository, producer kafkaProducer, logger *logging.Logger, m *metrics.Metrics, cfg *outbox.PublisherConfig) outboxDrainer {
	return outbox.NewPublisher(repo, producer, logger, m, cfg)
}

var newQueueRepository = func(db *mongo.Database, collection string, eventFactory *cloudevents.EventFactory, logger *logging.Logger, m *metrics.Metrics) queueRepository {
	return mongoRepo.NewQueueRepository(db, collection, eventFactory, logger, m)
}

var newPlatformClient = func(cfg *platform.Config, logger *logging.Logger, m *metrics.Metrics) platformClient {
	return platform.NewClient(cfg, logger, m)
}

var newReconciliationService = func(repo domain.QueueRepository, client platformClient, logger *logging.Logger, opts application.Options) reconciler {
	return application.NewReconciliationService(repo, client, client, logger, opts)
}

var newMetrics = metrics.New

var initTracing = tracing.Initialize

var pushMetrics = func(ctx context.Context, m *metrics.Metrics, url string) error {
	return m.Push(ctx, url)
}

func main() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(context.Background(), signalCh); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, signalCh <-chan os.Signal) error {
	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}
	if logging.LogLevel(cfg.LogLevel) != logConfig.Level {
		logConfig.Level = logging.LogLevel(cfg.LogLevel)
		logger = logging.New(logConfig)
		logger.SetDefault()
	}

	logger.Info("Starting refund-processor run")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case sig := <-signalCh:
			logger.Warn("Received signal, stopping after the current order", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = cfg.Tracing.Endpoint
	tracingConfig.Environment = cfg.Environment
	tracingConfig.Enabled = cfg.Tracing.Enabled
	tracingConfig.SampleRate = cfg.Tracing.SampleRate

	tracerProvider, err := initTracing(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "enabled", tracingConfig.Enabled, "endpoint", tracingConfig.OTLPEndpoint)
	}

	m := newMetrics(metrics.DefaultConfig(serviceName))

	dbClient, err := newMongoClient(ctx, cfg.MongoDB)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dbClient.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Failed to close MongoDB client")
		}
	}()
	// Queue writes run in transactions and need the primary.
	if err := dbClient.HealthCheck(ctx); err != nil {
		logger.WithError(err).Error("MongoDB primary is not reachable")
		return err
	}
	logger.Info("Connected to MongoDB", "database", cfg.MongoDB.Database)

	eventFactory := cloudevents.NewEventFactory(cloudevents.SourceRefundProcessor)
	queueRepo := newQueueRepository(dbClient.Database(), cfg.QueueCollection, eventFactory, logger, m)

	client := newPlatformClient(&platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		Token:   cfg.Platform.Token,
		Timeout: cfg.Platform.Timeout,
	}, logger, m)

	opts := application.Options{
		Policy:     cfg.FailurePolicy,
		BatchLimit: cfg.BatchLimit,
		Metrics:    m,
	}
	if tracerProvider != nil && tracerProvider.Tracer() != nil {
		opts.Tracer = tracerProvider.Tracer()
	}
	service := newReconciliationService(queueRepo, client, logger, opts)

	summary, err := service.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("Run failed")
		return err
	}

	if cfg.KafkaEnabled {
		drainOutbox(ctx, cfg, queueRepo.GetOutboxRepository(), m, logger)
	}

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := pushMetrics(pushCtx, m, cfg.PushgatewayURL); err != nil {
			logger.WithError(err).Warn("Failed to push metrics")
		}
	}

	logger.Info("Refund-processor run finished",
		"runId", summary.RunID,
		"entries", summary.Entries,
		"orders", summary.Orders,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return nil
}

// drainOutbox publishes the events written during the run. Events left behind
// are picked up by the next run.
func drainOutbox(ctx context.Context, cfg *config.Config, repo outbox.Repository, m *metrics.Metrics, logger *logging.Logger) {
	producer := newInstrumentedKafkaProducer(cfg.Kafka, m, logger)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Kafka producer")
		}
	}()

	publisher := newOutboxPublisher(repo, producer, logger, m, outbox.DefaultPublisherConfig())

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if _, err := publisher.Drain(drainCtx); err != nil {
		logger.WithError(err).Warn("Failed to drain outbox")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
