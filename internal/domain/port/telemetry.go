package port

import "github.com/CohenShirel/SkyLens/internal/domain/entity"

// TelemetryParser turns a subtitle-track file into ordered geolocation
// samples. An empty (but readable) track is a valid, empty result.
type TelemetryParser interface {
	ParseFile(path string) ([]entity.TelemetrySample, error)
}
