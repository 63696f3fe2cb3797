package entity

// TelemetrySample is one geolocation fix parsed from the subtitle track.
// Samples are immutable once parsed.
type TelemetrySample struct {
	Sequence  int
	Timestamp ClockTime
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// Evidence is one sampled video frame paired with the telemetry fix that
// was nearest to it at sampling time. The timestamp is inherited from the
// telemetry sample, never re-derived later.
type Evidence struct {
	FramePath string    `json:"frame"`
	Timestamp ClockTime `json:"timestamp"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
}

// Group is an ordered run of Evidence that is spatially co-located and
// temporally contiguous. Groups partition the full Evidence sequence.
type Group []Evidence

// FramePaths returns the group's frame handles in member order.
func (g Group) FramePaths() []string {
	paths := make([]string, len(g))
	for i, ev := range g {
		paths[i] = ev.FramePath
	}
	return paths
}
