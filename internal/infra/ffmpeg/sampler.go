package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
	"github.com/CohenShirel/SkyLens/internal/domain/port"
	"go.uber.org/zap"
)

// fallbackFPS is assumed when the container does not report a frame rate.
const fallbackFPS = 30.0

// IndexFileName is the auxiliary plain-text index written next to the
// frames, one line per successful sample. Audit artifact, not consumed
// downstream.
const IndexFileName = "frames_metadata.txt"

// Sampler extracts one frame per sample instant, in parallel, pairing
// each with the nearest telemetry fix. Each worker runs its own ffmpeg
// process, so decode work shares nothing across instants.
type Sampler struct {
	interval float64 // explicit sampling interval in seconds; 0 means adaptive
	workers  int     // 0 means NumCPU-1
	logger   *zap.Logger
}

func NewSampler(intervalSec float64, workers int, logger *zap.Logger) *Sampler {
	return &Sampler{interval: intervalSec, workers: workers, logger: logger}
}

func (s *Sampler) SampleFrames(ctx context.Context, videoPath, outputDir string, telemetry []entity.TelemetrySample) (*port.FrameSampleResult, error) {
	if len(telemetry) == 0 {
		return nil, entity.ErrNoTelemetry
	}

	duration, err := s.probeDuration(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("probe video: %w", err)
	}

	interval := s.interval
	if interval <= 0 {
		interval = intervalFor(duration)
	}
	instants := sampleInstants(duration, interval)

	s.logger.Info("sampling video",
		zap.Float64("duration_secs", duration),
		zap.Float64("interval_secs", interval),
		zap.Int("instants", len(instants)),
	)

	// One slot per instant keeps output in sample-instant order no
	// matter which worker finishes first. Failed instants leave a nil.
	slots := make([]*entity.Evidence, len(instants))

	workers := s.workers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}

	tasks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				framePath := filepath.Join(outputDir, fmt.Sprintf("frame_%04d.jpg", i))
				if err := s.extractFrame(ctx, videoPath, instants[i], framePath); err != nil {
					s.logger.Warn("frame decode failed, dropping instant",
						zap.Float64("second", instants[i]),
						zap.Error(err),
					)
					continue
				}

				meta := telemetry[clampIndex(i, len(telemetry))]
				slots[i] = &entity.Evidence{
					FramePath: framePath,
					Timestamp: meta.Timestamp,
					Latitude:  meta.Latitude,
					Longitude: meta.Longitude,
					Altitude:  meta.Altitude,
				}
			}
		}()
	}

	for i := range instants {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	evidence := make([]entity.Evidence, 0, len(slots))
	for _, slot := range slots {
		if slot != nil {
			evidence = append(evidence, *slot)
		}
	}
	if len(evidence) == 0 {
		return nil, fmt.Errorf("no frames sampled from video")
	}

	if err := writeIndexFile(filepath.Join(outputDir, IndexFileName), evidence); err != nil {
		return nil, fmt.Errorf("write frame index: %w", err)
	}

	return &port.FrameSampleResult{
		Evidence:      evidence,
		VideoDuration: duration,
		Interval:      interval,
	}, nil
}

// intervalFor trades sampling density against the frame and
// classification budget: short clips are sampled densely to catch brief
// events, long clips are capped.
func intervalFor(durationSec float64) float64 {
	switch {
	case durationSec < 10:
		return 0.5
	case durationSec < 20:
		return 1.0
	case durationSec < 30:
		return 2.0
	default:
		return 3.0
	}
}

// sampleInstants steps from 0 to duration inclusive. The exact duration
// is always included even off the step grid, so the last partial
// segment of video is never skipped.
func sampleInstants(durationSec, intervalSec float64) []float64 {
	var instants []float64
	for t := 0.0; t <= durationSec+1e-9; t += intervalSec {
		instants = append(instants, roundMillis(t))
	}
	if len(instants) == 0 || math.Abs(instants[len(instants)-1]-durationSec) > 1e-9 {
		instants = append(instants, roundMillis(durationSec))
	}
	return instants
}

func roundMillis(sec float64) float64 {
	return math.Round(sec*1000) / 1000
}

// clampIndex reuses the last telemetry sample when the track ends
// slightly before the video does.
func clampIndex(i, n int) int {
	if i >= n {
		return n - 1
	}
	return i
}

func (s *Sampler) extractFrame(ctx context.Context, videoPath string, sec float64, framePath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", strconv.FormatFloat(sec, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		framePath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %w, output: %s", err, string(output))
	}
	if _, err := os.Stat(framePath); err != nil {
		return fmt.Errorf("frame not written: %w", err)
	}
	return nil
}

// probeDuration derives the duration from frame count and frame rate,
// falling back to 30 fps when the rate is unreported.
func (s *Sampler) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets,r_frame_rate",
		"-of", "default=noprint_wrappers=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	fps := 0.0
	frames := 0
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "r_frame_rate":
			fps = parseFrameRate(value)
		case "nb_read_packets":
			frames, _ = strconv.Atoi(value)
		}
	}

	if frames <= 0 {
		return 0, fmt.Errorf("no video frames reported for %s", videoPath)
	}
	if fps <= 0 {
		fps = fallbackFPS
	}
	return float64(frames) / fps, nil
}

// parseFrameRate handles ffprobe's fractional form, e.g. "30000/1001".
func parseFrameRate(value string) float64 {
	num, den, found := strings.Cut(value, "/")
	if !found {
		fps, _ := strconv.ParseFloat(value, 64)
		return fps
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func writeIndexFile(path string, evidence []entity.Evidence) error {
	var sb strings.Builder
	for _, ev := range evidence {
		fmt.Fprintf(&sb, "%s, %s, %g, %g, %g\n",
			ev.FramePath, ev.Timestamp, ev.Latitude, ev.Longitude, ev.Altitude)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
