// Package conflict detects cross-person scheduling overlaps.
package conflict

import (
	"sort"
	"time"

	"glancecal/internal/model"
)

// Detect returns one record per pair of timed events whose owners differ
// and whose intervals strictly overlap (start1 < end2 && start2 < end1).
//
// All-day events are excluded before comparison. The scan is a plain
// all-pairs loop: daily event counts are in the tens, so quadratic cost is
// cheaper to audit than interval-tree machinery. Transitively overlapping
// events are reported pairwise, never merged into clusters; three mutually
// overlapping events from three owners yield exactly three records.
func Detect(events []model.Event) []model.ConflictRecord {
	timed := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if !ev.AllDay {
			timed = append(timed, ev)
		}
	}

	var records []model.ConflictRecord
	for i := 0; i < len(timed); i++ {
		for j := i + 1; j < len(timed); j++ {
			a, b := timed[i], timed[j]
			if a.Owner == b.Owner {
				continue
			}
			if !a.Start.Before(b.End) || !b.Start.Before(a.End) {
				continue
			}
			start := laterOf(a.Start, b.Start)
			end := earlierOf(a.End, b.End)
			records = append(records, model.ConflictRecord{
				First:          a,
				Second:         b,
				OverlapStart:   start,
				OverlapEnd:     end,
				OverlapMinutes: int(end.Sub(start) / time.Minute),
			})
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OverlapStart.Before(records[j].OverlapStart)
	})
	return records
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
