package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
	"github.com/CohenShirel/SkyLens/internal/infra/cache"
	"github.com/CohenShirel/SkyLens/internal/infra/email"
	"github.com/CohenShirel/SkyLens/internal/infra/ffmpeg"
	miniostorage "github.com/CohenShirel/SkyLens/internal/infra/minio"
	"github.com/CohenShirel/SkyLens/internal/infra/postgres"
	"github.com/CohenShirel/SkyLens/internal/infra/rabbitmq"
	"github.com/CohenShirel/SkyLens/internal/infra/srt"
	"github.com/CohenShirel/SkyLens/internal/usecase"
	"github.com/CohenShirel/SkyLens/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// Generated telemetry tracks use a compact block layout so fixtures stay
// readable; the stride is passed to the parser explicitly.
const testStride = 8

// stubClassifier flags every group as suspicious without calling out to
// an external model.
type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, group entity.Group) (entity.Verdict, error) {
	return entity.Verdict{
		IsSuspicious: true,
		Object:       "person",
		Explanation:  "subject loitering near fence line",
		Images:       group.FramePaths(),
	}, nil
}

// writeTelemetryTrack emits n blocks half a second apart, all at the
// same coordinate so grouping yields a single event.
func writeTelemetryTrack(t *testing.T, path string, n int) {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < n; i++ {
		startMs := i * 500
		endMs := startMs + 500
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(fmt.Sprintf("00:00:%02d,%03d --> 00:00:%02d,%03d\n",
			startMs/1000, startMs%1000, endMs/1000, endMs%1000))
		sb.WriteString("\n")
		sb.WriteString("<font size=\"28\">\n")
		sb.WriteString("[latitude: 32.085300] [longitude: 34.781769] [rel_alt: 50.0 abs_alt: 120.500000]\n")
		for pad := 5; pad < testStride; pad++ {
			sb.WriteString("\n")
		}
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
}

func requireTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not found in PATH", tool)
		}
	}
}

func TestAnalyzeVideoEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	requireTools(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("job_user"),
		tcpostgres.WithPassword("job_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start RabbitMQ container
	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Start MinIO container
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	// Run migrations
	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	// Setup MinIO storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UseSSL:       false,
		UploadBucket: "uploads",
		ReportBucket: "reports",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	// Upload test video to MinIO
	testVideoPath := filepath.Join("..", "testdata", "test.mp4")
	if _, err := os.Stat(testVideoPath); os.IsNotExist(err) {
		t.Skip("test video not found at tests/testdata/test.mp4 - generate it with: ffmpeg -f lavfi -i testsrc=duration=2:size=320x240:rate=1 -c:v libx264 -pix_fmt yuv420p tests/testdata/test.mp4")
	}

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	videoKey := "testuser/test.mp4"
	_, err = minioClient.FPutObject(ctx, "uploads", videoKey, testVideoPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	srtPath := filepath.Join(t.TempDir(), "test.srt")
	writeTelemetryTrack(t, srtPath, 6)
	subtitleKey := "testuser/test.srt"
	_, err = minioClient.FPutObject(ctx, "uploads", subtitleKey, srtPath, miniogo.PutObjectOptions{
		ContentType: "application/x-subrip",
	})
	require.NoError(t, err)

	// Setup RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "skylens.analysis")
	require.NoError(t, err)

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, "analysis.request.dlq")

	// Setup DB pool
	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	// Setup use case
	log, _ := logger.New("debug")
	repo := postgres.NewJobRepository(pool)
	parser := srt.NewParser(testStride, log)
	sampler := ffmpeg.NewSampler(0, 2, log)
	zipper := ffmpeg.NewZipCreator()
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@skylens.local", log)
	reportCache := cache.NewFileCache(filepath.Join(t.TempDir(), "results.json"))

	uc := usecase.NewAnalyzeVideoUseCase(
		usecase.Deps{
			Repo:       repo,
			Storage:    storage,
			Parser:     parser,
			Sampler:    sampler,
			Classifier: stubClassifier{},
			Zipper:     zipper,
			Publisher:  statusPub,
			DLQ:        dlqPub,
			Notifier:   notifier,
			Cache:      reportCache,
			Logger:     log,
		},
		usecase.AnalyzeVideoConfig{
			TempDir:         t.TempDir(),
			MaxRetries:      3,
			SpatialRadiusM:  5,
			TemporalGapSec:  4,
			ClassifyWorkers: 2,
			ClassifyRetries: 3,
			ClassifyBackoff: 100 * time.Millisecond,
		},
	)

	// Setup consumer
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       "analysis.request",
		Exchange:    "skylens.analysis",
		DLQ:         "analysis.request.dlq",
		StatusQueue: "analysis.status",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	// Start consumer in background
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()

	// Give consumer time to start
	time.Sleep(500 * time.Millisecond)

	// Publish analysis request
	jobID := uuid.New()
	requestMsg := entity.AnalysisRequestMessage{
		JobID:       jobID,
		UserID:      "testuser",
		VideoKey:    videoKey,
		SubtitleKey: subtitleKey,
		UserEmail:   "test@skylens.local",
	}
	msgBody, err := json.Marshal(requestMsg)
	require.NoError(t, err)

	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"skylens.analysis",
		"analysis.request",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msgBody,
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	// Wait for status message on analysis.status queue
	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()

	statusMsgs, err := statusCh.Consume("analysis.status", "", true, false, false, false, nil)
	require.NoError(t, err)

	var statusMsg entity.AnalysisStatusMessage
	select {
	case delivery := <-statusMsgs:
		err = json.Unmarshal(delivery.Body, &statusMsg)
		require.NoError(t, err)
	case <-time.After(2 * time.Minute):
		t.Fatal("timeout waiting for status message")
	}

	// Assert status
	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, entity.JobStatusCompleted, statusMsg.Status)
	assert.Greater(t, statusMsg.FrameCount, 0)
	assert.Greater(t, statusMsg.GroupCount, 0)
	assert.Equal(t, statusMsg.GroupCount, statusMsg.SuspiciousCount)
	assert.NotEmpty(t, statusMsg.ReportKey)

	// Download and verify the report
	reportObj, err := minioClient.GetObject(ctx, "reports", statusMsg.ReportKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)

	var report entity.Report
	require.NoError(t, json.NewDecoder(reportObj).Decode(&report))
	require.Len(t, report, statusMsg.GroupCount)

	frameCount := 0
	for _, finding := range report {
		assert.True(t, finding.Result.IsSuspicious)
		assert.Equal(t, "person", finding.Result.Object)
		assert.NotEmpty(t, finding.Matrix)
		frameCount += len(finding.Matrix)
		for _, ev := range finding.Matrix {
			assert.InDelta(t, 32.0853, ev.Latitude, 0.0001)
			assert.InDelta(t, 34.781769, ev.Longitude, 0.0001)
		}
	}
	assert.Equal(t, statusMsg.FrameCount, frameCount)

	// Verify the frame archive exists
	archiveKey := fmt.Sprintf("testuser/frames_%s.zip", jobID.String())
	archiveStat, err := minioClient.StatObject(ctx, "reports", archiveKey, miniogo.StatObjectOptions{})
	require.NoError(t, err)
	assert.Greater(t, archiveStat.Size, int64(0))

	// Verify job record in database
	var dbStatus string
	var dbGroupCount int
	err = pool.QueryRow(ctx,
		"SELECT status, group_count FROM analysis_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbGroupCount)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, statusMsg.GroupCount, dbGroupCount)

	consumerCancel()

	t.Logf("Test passed: %d frames in %d groups, report at %s", frameCount, statusMsg.GroupCount, statusMsg.ReportKey)
}

func TestAnalyzeMalformedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Start PostgreSQL
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("job_user"),
		tcpostgres.WithPassword("job_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start RabbitMQ
	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Run migrations
	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	// MinIO (no media needed for this test)
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UseSSL:       false,
		UploadBucket: "uploads",
		ReportBucket: "reports",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	// Setup
	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	log, _ := logger.New("debug")
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "skylens.analysis")
	require.NoError(t, err)

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, "analysis.request.dlq")

	repo := postgres.NewJobRepository(pool)
	parser := srt.NewParser(testStride, log)
	sampler := ffmpeg.NewSampler(0, 1, log)
	zipper := ffmpeg.NewZipCreator()
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@skylens.local", log)
	reportCache := cache.NewFileCache(filepath.Join(t.TempDir(), "results.json"))

	uc := usecase.NewAnalyzeVideoUseCase(
		usecase.Deps{
			Repo:       repo,
			Storage:    storage,
			Parser:     parser,
			Sampler:    sampler,
			Classifier: stubClassifier{},
			Zipper:     zipper,
			Publisher:  statusPub,
			DLQ:        dlqPub,
			Notifier:   notifier,
			Cache:      reportCache,
			Logger:     log,
		},
		usecase.AnalyzeVideoConfig{
			TempDir:         t.TempDir(),
			MaxRetries:      3,
			SpatialRadiusM:  5,
			TemporalGapSec:  4,
			ClassifyWorkers: 1,
			ClassifyRetries: 3,
			ClassifyBackoff: 100 * time.Millisecond,
		},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       "analysis.request",
		Exchange:    "skylens.analysis",
		DLQ:         "analysis.request.dlq",
		StatusQueue: "analysis.status",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()
	time.Sleep(500 * time.Millisecond)

	// Publish malformed message
	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"skylens.analysis",
		"analysis.request",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(`{invalid json`),
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	// Wait and verify message landed in DLQ
	time.Sleep(2 * time.Second)

	dlqCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	dlqMsg, ok, err := dlqCh.Get("analysis.request.dlq", true)
	require.NoError(t, err)
	assert.True(t, ok, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))

	consumerCancel()
	t.Log("Test passed: malformed message sent to DLQ")
}
