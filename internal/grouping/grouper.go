package grouping

import (
	"sort"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
)

// ByLocation partitions evidence into groups whose members all lie
// within radiusMeters of the group's anchor (its first member).
// Assignment is greedy first-fit in group-creation order: a point that
// would fit several groups joins the earliest-created one. O(n*g), with
// g expected small for a single flight path.
//
// Each returned group is sorted by timestamp ascending, since insertion
// order is not guaranteed chronological across groups.
func ByLocation(evidence []entity.Evidence, radiusMeters float64) []entity.Group {
	var groups []entity.Group

	for _, ev := range evidence {
		placed := false
		for i, group := range groups {
			anchor := group[0]
			d := HaversineMeters(ev.Latitude, ev.Longitude, anchor.Latitude, anchor.Longitude)
			if d <= radiusMeters {
				groups[i] = append(groups[i], ev)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, entity.Group{ev})
		}
	}

	for _, group := range groups {
		sort.SliceStable(group, func(a, b int) bool {
			return group[a].Timestamp.Before(group[b].Timestamp.Time)
		})
	}

	return groups
}
