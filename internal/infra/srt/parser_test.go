package srt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// block renders one subtitle block padded to stride lines. The data
// line sits at the parser's fixed offset inside the block.
func block(idx int, start string, dataLine string, stride int) string {
	lines := make([]string, stride)
	lines[0] = fmt.Sprintf("%d", idx)
	lines[1] = fmt.Sprintf("%s --> %s", start, start)
	lines[2] = "<font size=\"28\">SrtCnt : 1, DiffTime : 33ms"
	lines[3] = "2023-06-11 12:00:00.000"
	lines[4] = dataLine
	for i := 5; i < stride; i++ {
		lines[i] = ""
	}
	return strings.Join(lines, "\n")
}

func writeTrack(t *testing.T, blocks ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flight.srt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(blocks, "\n")), 0644))
	return path
}

func TestParseFile(t *testing.T) {
	const stride = 8
	parser := NewParser(stride, zap.NewNop())

	data := "[latitude: 31.78546] [longitude: 35.190109] [rel_alt: 10.2 abs_alt: 878.317]"

	t.Run("valid blocks at stride", func(t *testing.T) {
		path := writeTrack(t,
			block(1, "00:00:00,000", data, stride),
			block(2, "00:00:00,566", data, stride),
		)

		samples, err := parser.ParseFile(path)
		require.NoError(t, err)
		require.Len(t, samples, 2)

		assert.Equal(t, "00:00:00.000", samples[0].Timestamp.String())
		assert.Equal(t, "00:00:00.566", samples[1].Timestamp.String())
		assert.InDelta(t, 31.78546, samples[0].Latitude, 1e-9)
		assert.InDelta(t, 35.190109, samples[0].Longitude, 1e-9)
		assert.InDelta(t, 878.317, samples[0].Altitude, 1e-9)
	})

	t.Run("block missing a field is skipped", func(t *testing.T) {
		noLon := "[latitude: 31.78546] abs_alt: 878.317"
		path := writeTrack(t,
			block(1, "00:00:00,000", data, stride),
			block(2, "00:00:00,566", noLon, stride),
			block(3, "00:00:01,133", data, stride),
		)

		samples, err := parser.ParseFile(path)
		require.NoError(t, err)
		require.Len(t, samples, 2)
		assert.Equal(t, "00:00:01.133", samples[1].Timestamp.String())
	})

	t.Run("garbage between strides is ignored", func(t *testing.T) {
		junk := strings.Repeat("not a block\n", stride-1) + "still not"
		path := writeTrack(t,
			block(1, "00:00:00,000", data, stride),
			junk,
			block(3, "00:00:01,133", data, stride),
		)

		samples, err := parser.ParseFile(path)
		require.NoError(t, err)
		assert.Len(t, samples, 2)
	})

	t.Run("empty track is a valid empty result", func(t *testing.T) {
		path := writeTrack(t, "")
		samples, err := parser.ParseFile(path)
		require.NoError(t, err)
		assert.Empty(t, samples)
	})

	t.Run("unreadable file fails", func(t *testing.T) {
		_, err := parser.ParseFile(filepath.Join(t.TempDir(), "missing.srt"))
		require.ErrorIs(t, err, entity.ErrMalformedTelemetry)
	})
}

func TestParseFileDefaultStride(t *testing.T) {
	parser := NewParser(0, zap.NewNop())

	data := "[latitude: -31.5] [longitude: -35.25] abs_alt: -12.5"
	path := writeTrack(t,
		block(1, "00:00:00,000", data, DefaultBlockStride),
		block(2, "00:00:03,400", data, DefaultBlockStride),
	)

	samples, err := parser.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, -31.5, samples[0].Latitude, 1e-9)
	assert.Equal(t, DefaultBlockStride, samples[1].Sequence)
}
