package srt

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
	"go.uber.org/zap"
)

// DefaultBlockStride is the line distance between telemetry records in
// DJI-style subtitle tracks. One record sits inside a larger fixed-size
// metadata block, so blocks are addressed by stride, not scanned one by
// one.
const DefaultBlockStride = 102

// dataLineOffset is where the free-text telemetry line sits relative to
// the block's index line.
const dataLineOffset = 4

var (
	latPattern = regexp.MustCompile(`\[latitude:\s*([0-9.\-]+)\]`)
	lonPattern = regexp.MustCompile(`\[longitude:\s*([0-9.\-]+)\]`)
	altPattern = regexp.MustCompile(`abs_alt:\s*([0-9.\-]+)`)
)

type Parser struct {
	stride int
	logger *zap.Logger
}

func NewParser(stride int, logger *zap.Logger) *Parser {
	if stride <= 0 {
		stride = DefaultBlockStride
	}
	return &Parser{stride: stride, logger: logger}
}

// ParseFile reads the subtitle track and returns one sample per block
// that carries all three telemetry fields. Blocks missing a field are
// skipped. Only an unreadable file is an error; zero samples from a
// readable file is a valid outcome the caller must handle.
func (p *Parser) ParseFile(path string) ([]entity.TelemetrySample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", entity.ErrMalformedTelemetry, path, err)
	}

	lines := strings.Split(string(raw), "\n")

	var samples []entity.TelemetrySample
	for i := 0; i < len(lines); i += p.stride {
		sample, ok := p.parseBlock(lines, i)
		if !ok {
			continue
		}
		samples = append(samples, sample)
	}

	p.logger.Debug("telemetry track parsed",
		zap.String("path", path),
		zap.Int("samples", len(samples)),
	)

	return samples, nil
}

func (p *Parser) parseBlock(lines []string, i int) (entity.TelemetrySample, bool) {
	if i+dataLineOffset >= len(lines) {
		return entity.TelemetrySample{}, false
	}
	if _, err := strconv.Atoi(strings.TrimSpace(lines[i])); err != nil {
		return entity.TelemetrySample{}, false
	}

	// Start of the display interval, "HH:MM:SS,mmm --> HH:MM:SS,mmm".
	timeRange := strings.TrimSpace(lines[i+1])
	start, _, found := strings.Cut(timeRange, "-->")
	if !found {
		return entity.TelemetrySample{}, false
	}
	timestamp, err := entity.ParseClockTime(start)
	if err != nil {
		return entity.TelemetrySample{}, false
	}

	dataLine := strings.TrimSpace(lines[i+dataLineOffset])
	lat, ok1 := matchFloat(latPattern, dataLine)
	lon, ok2 := matchFloat(lonPattern, dataLine)
	alt, ok3 := matchFloat(altPattern, dataLine)
	if !ok1 || !ok2 || !ok3 {
		return entity.TelemetrySample{}, false
	}

	return entity.TelemetrySample{
		Sequence:  i,
		Timestamp: timestamp,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
	}, true
}

func matchFloat(pattern *regexp.Regexp, line string) (float64, bool) {
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
