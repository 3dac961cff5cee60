package models

import (
	"sort"

	id "venuepass/pkg/domain"
)

// Level is a reputation tier.
type Level struct {
	ID            id.LevelID `json:"id" msgpack:"id"`
	Name          string     `json:"name" msgpack:"name"`
	MinReputation int64      `json:"min_reputation" msgpack:"min_reputation"`
}

// SortLevels orders levels by ascending threshold, breaking ties by name.
func SortLevels(levels []Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].MinReputation != levels[j].MinReputation {
			return levels[i].MinReputation < levels[j].MinReputation
		}
		return levels[i].Name < levels[j].Name
	})
}

// LevelFor returns the highest level whose threshold is at most reputation.
// levels must be sorted ascending.
func LevelFor(levels []Level, reputation int64) (Level, bool) {
	var (
		found Level
		ok    bool
	)
	for _, l := range levels {
		if l.MinReputation > reputation {
			break
		}
		found, ok = l, true
	}
	return found, ok
}

// Rank returns the position of level in levels, or -1 when absent.
func Rank(levels []Level, level id.LevelID) int {
	for i, l := range levels {
		if l.ID == level {
			return i
		}
	}
	return -1
}
