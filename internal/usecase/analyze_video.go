package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
	"github.com/CohenShirel/SkyLens/internal/domain/port"
	"github.com/CohenShirel/SkyLens/internal/grouping"
	"github.com/CohenShirel/SkyLens/internal/infra/ffmpeg"
	"github.com/CohenShirel/SkyLens/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AnalyzeVideoUseCase drives the full pipeline for one request: fetch
// media, parse telemetry, sample frames, cluster them into events,
// classify each event and assemble the report.
type AnalyzeVideoUseCase struct {
	repo       port.JobRepository
	storage    port.MediaStorage
	parser     port.TelemetryParser
	sampler    port.FrameSampler
	classifier port.GroupClassifier
	zipper     port.Zipper
	publisher  port.StatusPublisher
	dlq        port.DLQPublisher
	notifier   port.FailureNotifier
	cache      port.ReportCache
	logger     *zap.Logger
	cfg        AnalyzeVideoConfig
}

type AnalyzeVideoConfig struct {
	TempDir         string
	MaxRetries      int
	SpatialRadiusM  float64
	TemporalGapSec  float64
	ClassifyWorkers int
	ClassifyRetries int
	ClassifyBackoff time.Duration
}

// Deps collects the collaborators the use case is built from.
type Deps struct {
	Repo       port.JobRepository
	Storage    port.MediaStorage
	Parser     port.TelemetryParser
	Sampler    port.FrameSampler
	Classifier port.GroupClassifier
	Zipper     port.Zipper
	Publisher  port.StatusPublisher
	DLQ        port.DLQPublisher
	Notifier   port.FailureNotifier
	Cache      port.ReportCache
	Logger     *zap.Logger
}

func NewAnalyzeVideoUseCase(deps Deps, cfg AnalyzeVideoConfig) *AnalyzeVideoUseCase {
	return &AnalyzeVideoUseCase{
		repo:       deps.Repo,
		storage:    deps.Storage,
		parser:     deps.Parser,
		sampler:    deps.Sampler,
		classifier: deps.Classifier,
		zipper:     deps.Zipper,
		publisher:  deps.Publisher,
		dlq:        deps.DLQ,
		notifier:   deps.Notifier,
		cache:      deps.Cache,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

func (uc *AnalyzeVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "AnalyzeVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.AnalysisRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
		attribute.String("job.subtitle_key", msg.SubtitleKey),
	)

	log := uc.logger.With(
		zap.String("job_id", msg.JobID.String()),
		zap.String("video_key", msg.VideoKey),
		zap.String("subtitle_key", msg.SubtitleKey),
	)

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewAnalysisJob(msg.UserID, msg.VideoKey, msg.SubtitleKey, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	// A finished report for the same video/subtitle pair is never
	// recomputed; the classifier call is the expensive part.
	if done, err := uc.serveCachedReport(ctx, job, msg, log); err == nil && done {
		metrics.JobsProcessedTotal.WithLabelValues("cached").Inc()
		return nil
	} else if err != nil {
		log.Warn("report cache lookup failed, reprocessing", zap.Error(err))
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobStageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

// cacheKey matches the original service-layer convention: reports are
// keyed by the bare video and subtitle filenames, joined by a semicolon.
func cacheKey(msg entity.AnalysisRequestMessage) string {
	return path.Base(msg.VideoKey) + ";" + path.Base(msg.SubtitleKey)
}

func (uc *AnalyzeVideoUseCase) serveCachedReport(ctx context.Context, job *entity.AnalysisJob, msg entity.AnalysisRequestMessage, log *zap.Logger) (bool, error) {
	cached, ok, err := uc.cache.Get(ctx, cacheKey(msg))
	if err != nil || !ok {
		return false, err
	}

	var report entity.Report
	if err := json.Unmarshal(cached, &report); err != nil {
		return false, fmt.Errorf("decode cached report: %w", err)
	}

	log.Info("serving cached report", zap.Int("groups", len(report)))

	reportKey := fmt.Sprintf("%s/report_%s.json", msg.UserID, job.ID.String())
	if err := uc.storage.UploadReport(ctx, reportKey, bytes.NewReader(cached), int64(len(cached))); err != nil {
		return false, fmt.Errorf("upload cached report: %w", err)
	}

	frameCount := 0
	for _, finding := range report {
		frameCount += len(finding.Matrix)
	}
	job.MarkCompleted(reportKey, frameCount, report, job.VideoDuration)
	if err := uc.repo.Update(ctx, job); err != nil {
		return false, fmt.Errorf("update cached job: %w", err)
	}

	uc.publishStatus(ctx, job, log)
	return true, nil
}

func (uc *AnalyzeVideoUseCase) runPipeline(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.AnalysisRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Fetch video and telemetry track
	dlStart := time.Now()
	ctxDl, spanDl := tracer.Start(ctx, "download_media")
	videoPath := filepath.Join(workDir, "input.mp4")
	srtPath := filepath.Join(workDir, "telemetry.srt")
	if err := uc.storage.DownloadObject(ctxDl, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	if err := uc.storage.DownloadObject(ctxDl, msg.SubtitleKey, srtPath); err != nil {
		spanDl.End()
		log.Error("failed to download subtitle track", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_subtitles: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobStageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Parse telemetry. A track with no usable fixes cannot improve on
	// retry, so both failure shapes here are permanent.
	_, spanTel := tracer.Start(ctx, "parse_telemetry")
	telemetry, err := uc.parser.ParseFile(srtPath)
	spanTel.End()
	if err != nil {
		log.Error("telemetry parse failed", zap.Error(err))
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "parse_telemetry: "+err.Error())
	}
	if len(telemetry) == 0 {
		log.Error("telemetry track has no usable samples")
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "parse_telemetry: "+entity.ErrNoTelemetry.Error())
	}

	// Sample frames
	smpStart := time.Now()
	ctxSmp, spanSmp := tracer.Start(ctx, "sample_frames")
	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		spanSmp.End()
		return fmt.Errorf("create frames dir: %w", err)
	}
	sampled, err := uc.sampler.SampleFrames(ctxSmp, videoPath, framesDir, telemetry)
	spanSmp.End()
	if err != nil {
		log.Error("frame sampling failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "sample_frames: "+err.Error(), log)
	}
	metrics.JobStageDuration.WithLabelValues("sample").Observe(time.Since(smpStart).Seconds())
	metrics.FramesSampledTotal.Add(float64(len(sampled.Evidence)))

	// Cluster into events: spatial first, then temporal
	_, spanGrp := tracer.Start(ctx, "group_evidence")
	spatial := grouping.ByLocation(sampled.Evidence, uc.cfg.SpatialRadiusM)
	finalGroups := grouping.SplitByTime(spatial, uc.cfg.TemporalGapSec)
	spanGrp.End()

	log.Info("evidence grouped",
		zap.Int("frames", len(sampled.Evidence)),
		zap.Int("spatial_groups", len(spatial)),
		zap.Int("final_groups", len(finalGroups)),
	)

	// Classify every group concurrently
	clsStart := time.Now()
	ctxCls, spanCls := tracer.Start(ctx, "classify_groups")
	report, err := uc.classifyGroups(ctxCls, finalGroups, log)
	spanCls.End()
	if err != nil {
		log.Error("classification failed", zap.Error(err))
		if errors.Is(err, entity.ErrMalformedVerdict) {
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "classify_groups: "+err.Error())
		}
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "classify_groups: "+err.Error(), log)
	}
	metrics.JobStageDuration.WithLabelValues("classify").Observe(time.Since(clsStart).Seconds())

	// Upload report and the frame archive backing it
	upStart := time.Now()
	ctxUp, spanUp := tracer.Start(ctx, "upload_results")
	reportKey, err := uc.uploadResults(ctxUp, job, msg, report, sampled, framesDir, workDir)
	spanUp.End()
	if err != nil {
		log.Error("result upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_results: "+err.Error(), log)
	}
	metrics.JobStageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(reportKey, len(sampled.Evidence), report, sampled.VideoDuration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("analysis completed",
		zap.Int("frame_count", len(sampled.Evidence)),
		zap.Int("group_count", len(report)),
		zap.Int("suspicious", report.SuspiciousCount()),
		zap.Float64("duration_secs", sampled.VideoDuration),
		zap.String("report_key", reportKey),
	)

	return nil
}

// classifyGroups dispatches one classification task per group across a
// bounded pool and reassembles findings in the original group order,
// whatever order the calls complete in. A single failed group fails the
// whole report; partial reports are not produced.
func (uc *AnalyzeVideoUseCase) classifyGroups(ctx context.Context, groups []entity.Group, log *zap.Logger) (entity.Report, error) {
	if len(groups) == 0 {
		return entity.Report{}, nil
	}

	workers := uc.cfg.ClassifyWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(groups) {
		workers = len(groups)
	}

	verdicts := make([]entity.Verdict, len(groups))
	errs := make([]error, len(groups))

	tasks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				verdicts[i], errs[i] = uc.classifyWithRetry(ctx, groups[i], log.With(zap.Int("group", i)))
			}
		}()
	}
	for i := range groups {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("classify group %d: %w", i, err)
		}
	}

	report := make(entity.Report, len(groups))
	for i, group := range groups {
		report[i] = entity.Finding{Result: verdicts[i], Matrix: group}
		metrics.GroupsClassifiedTotal.WithLabelValues(verdictLabel(verdicts[i])).Inc()
	}
	return report, nil
}

func (uc *AnalyzeVideoUseCase) classifyWithRetry(ctx context.Context, group entity.Group, log *zap.Logger) (entity.Verdict, error) {
	attempts := uc.cfg.ClassifyRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		verdict, err := uc.classifier.Classify(ctx, group)
		if err == nil {
			return verdict, nil
		}
		lastErr = err

		if !errors.Is(err, entity.ErrRateLimited) || attempt == attempts {
			return entity.Verdict{}, err
		}

		metrics.ClassifyRetryTotal.Inc()
		log.Warn("classifier rate limited, backing off",
			zap.Duration("backoff", uc.cfg.ClassifyBackoff),
			zap.Int("attempt", attempt),
		)
		select {
		case <-time.After(uc.cfg.ClassifyBackoff):
		case <-ctx.Done():
			return entity.Verdict{}, ctx.Err()
		}
	}
	return entity.Verdict{}, lastErr
}

func (uc *AnalyzeVideoUseCase) uploadResults(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.AnalysisRequestMessage,
	report entity.Report,
	sampled *port.FrameSampleResult,
	framesDir, workDir string,
) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	reportKey := fmt.Sprintf("%s/report_%s.json", msg.UserID, job.ID.String())
	if err := uc.storage.UploadReport(ctx, reportKey, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}

	// Bundle the frames (plus the index) so the evidence the report
	// points at outlives the workdir.
	archivePaths := make([]string, 0, len(sampled.Evidence)+1)
	for _, ev := range sampled.Evidence {
		archivePaths = append(archivePaths, ev.FramePath)
	}
	archivePaths = append(archivePaths, filepath.Join(framesDir, ffmpeg.IndexFileName))

	zipPath := filepath.Join(workDir, "frames.zip")
	if err := uc.zipper.CreateZip(ctx, archivePaths, zipPath); err != nil {
		return "", fmt.Errorf("create frame archive: %w", err)
	}

	zipFile, err := os.Open(zipPath)
	if err != nil {
		return "", fmt.Errorf("open frame archive: %w", err)
	}
	defer zipFile.Close()
	zipStat, err := zipFile.Stat()
	if err != nil {
		return "", fmt.Errorf("stat frame archive: %w", err)
	}
	archiveKey := fmt.Sprintf("%s/frames_%s.zip", msg.UserID, job.ID.String())
	if err := uc.storage.UploadFrameArchive(ctx, archiveKey, zipFile, zipStat.Size()); err != nil {
		return "", err
	}

	if err := uc.cache.Put(ctx, cacheKey(msg), data); err != nil {
		// The report is already durable in object storage.
		uc.logger.Warn("failed to cache report", zap.Error(err))
	}

	return reportKey, nil
}

func (uc *AnalyzeVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.AnalysisRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *AnalyzeVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.AnalysisRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *AnalyzeVideoUseCase) publishStatus(ctx context.Context, job *entity.AnalysisJob, log *zap.Logger) {
	statusMsg := entity.AnalysisStatusMessage{
		JobID:           job.ID,
		UserID:          job.UserID,
		Status:          job.Status,
		VideoKey:        job.VideoKey,
		SubtitleKey:     job.SubtitleKey,
		ReportKey:       job.ReportKey,
		FrameCount:      job.FrameCount,
		GroupCount:      job.GroupCount,
		SuspiciousCount: job.SuspiciousCount,
		Duration:        job.VideoDuration,
		ErrorMessage:    job.ErrorMessage,
		Attempt:         job.Attempt,
		MaxAttempts:     job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

func verdictLabel(v entity.Verdict) string {
	if v.IsSuspicious {
		return "suspicious"
	}
	return "clear"
}
