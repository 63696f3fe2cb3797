package port

import (
	"context"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
)

type FrameSampleResult struct {
	Evidence      []entity.Evidence
	VideoDuration float64
	Interval      float64
}

// FrameSampler decides when to sample the video, decodes one frame per
// sample instant and pairs it with the nearest telemetry fix. Evidence
// comes back in sample-instant order.
type FrameSampler interface {
	SampleFrames(ctx context.Context, videoPath, outputDir string, telemetry []entity.TelemetrySample) (*FrameSampleResult, error)
}
