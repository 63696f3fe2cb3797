package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CohenShirel/SkyLens/internal/infra/cache"
	"github.com/CohenShirel/SkyLens/internal/infra/config"
	"github.com/CohenShirel/SkyLens/internal/infra/email"
	"github.com/CohenShirel/SkyLens/internal/infra/ffmpeg"
	"github.com/CohenShirel/SkyLens/internal/infra/gemini"
	"github.com/CohenShirel/SkyLens/internal/infra/metrics"
	miniostorage "github.com/CohenShirel/SkyLens/internal/infra/minio"
	"github.com/CohenShirel/SkyLens/internal/infra/postgres"
	"github.com/CohenShirel/SkyLens/internal/infra/rabbitmq"
	"github.com/CohenShirel/SkyLens/internal/infra/srt"
	"github.com/CohenShirel/SkyLens/internal/infra/tracing"
	"github.com/CohenShirel/SkyLens/internal/usecase"
	"github.com/CohenShirel/SkyLens/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	// Optional .env for local runs; env vars win in deployment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting skylens-analysis-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     cfg.MinIOEndpoint,
		AccessKey:    cfg.MinIOAccessKey,
		SecretKey:    cfg.MinIOSecretKey,
		UseSSL:       cfg.MinIOUseSSL,
		UploadBucket: cfg.MinIOUploadBucket,
		ReportBucket: cfg.MinIOReportBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// Classifier credentials are checked here, before any job is
	// consumed; a worker without a key must not burn sampling work.
	classifier, err := gemini.NewClassifier(ctx, gemini.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, log)
	fatalOnErr(err, "create gemini classifier")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	parser := srt.NewParser(cfg.TelemetryStride, log)
	sampler := ffmpeg.NewSampler(cfg.SampleIntervalSec, cfg.SamplerWorkers, log)
	zipper := ffmpeg.NewZipCreator()
	reportCache := cache.NewFileCache(cfg.ReportCachePath)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewAnalyzeVideoUseCase(
		usecase.Deps{
			Repo:       repo,
			Storage:    storage,
			Parser:     parser,
			Sampler:    sampler,
			Classifier: classifier,
			Zipper:     zipper,
			Publisher:  statusPub,
			DLQ:        dlqPub,
			Notifier:   notifier,
			Cache:      reportCache,
			Logger:     log,
		},
		usecase.AnalyzeVideoConfig{
			TempDir:         cfg.TempDir,
			MaxRetries:      cfg.MaxRetries,
			SpatialRadiusM:  cfg.SpatialRadiusM,
			TemporalGapSec:  cfg.TemporalGapSec,
			ClassifyWorkers: cfg.ClassifyWorkers,
			ClassifyRetries: cfg.ClassifyRetries,
			ClassifyBackoff: time.Duration(cfg.ClassifyBackoffSec) * time.Second,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQRequestQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("skylens-analysis-worker started, consuming requests")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("skylens-analysis-worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
