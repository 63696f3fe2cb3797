package grouping

import "github.com/CohenShirel/SkyLens/internal/domain/entity"

// SplitByTime cuts each time-sorted group wherever the gap to the
// immediately preceding member exceeds maxGapSeconds, and flattens the
// result in parent order then sub-group creation order. A lone member
// with no temporal neighbor still forms a one-element group.
func SplitByTime(groups []entity.Group, maxGapSeconds float64) []entity.Group {
	var out []entity.Group

	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		current := entity.Group{group[0]}
		for _, ev := range group[1:] {
			prev := current[len(current)-1]
			if ev.Timestamp.GapSeconds(prev.Timestamp) > maxGapSeconds {
				out = append(out, current)
				current = entity.Group{ev}
				continue
			}
			current = append(current, ev)
		}
		out = append(out, current)
	}

	return out
}
