package entity

import (
	"fmt"
	"strings"
	"time"
)

// clockLayout is the wall-clock form used throughout the pipeline:
// millisecond precision, no date component.
const clockLayout = "15:04:05.000"

// ClockTime is a time-of-day with millisecond precision, as carried by
// drone telemetry subtitle tracks. It marshals as "HH:MM:SS.mmm".
type ClockTime struct {
	time.Time
}

// ParseClockTime accepts both the SRT form ("HH:MM:SS,mmm") and the
// report form ("HH:MM:SS.mmm").
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	return ClockTime{t}, nil
}

func (c ClockTime) String() string {
	return c.Format(clockLayout)
}

// GapSeconds returns the absolute distance to other in seconds.
func (c ClockTime) GapSeconds(other ClockTime) float64 {
	d := c.Sub(other.Time).Seconds()
	if d < 0 {
		d = -d
	}
	return d
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.Format(clockLayout) + `"`), nil
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
