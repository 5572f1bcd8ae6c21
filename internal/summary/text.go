// Package summary turns aggregated events into short natural-language
// texts for a glance surface, using a remote text-generation endpoint with
// a deterministic local fallback.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"glancecal/internal/agg"
	"glancecal/internal/model"
)

// Variant names the summary flavor being generated.
type Variant string

const (
	VariantToday      Variant = "today"
	VariantWeekMedium Variant = "week_medium"
	VariantWeekLarge  Variant = "week_large"
)

// OrderOwners returns the owners of the given groups with the primary
// owner first and everyone else in ascending lexicographic order. This is
// a product rule, not chronology: remote prompts and local fallback text
// must present people in the same order.
func OrderOwners(groups map[string][]model.Event, primary string) []string {
	rest := make([]string, 0, len(groups))
	for owner := range groups {
		if owner != primary {
			rest = append(rest, owner)
		}
	}
	sort.Strings(rest)

	if _, ok := groups[primary]; ok {
		return append([]string{primary}, rest...)
	}
	return rest
}

// TrimToLimit enforces a character budget (counted in runes). Text within
// the budget is returned unchanged. Oversized text is cut to the first
// limit−3 runes and then, in order of preference: at the last sentence
// terminator (kept), at the last space (plus an ellipsis marker), or as a
// hard cut (plus an ellipsis marker).
func TrimToLimit(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}

	prefix := string(runes[:limit-3])
	if i := strings.LastIndex(prefix, "."); i >= 0 {
		return prefix[:i+1]
	}
	if i := strings.LastIndex(prefix, " "); i >= 0 {
		return prefix[:i] + "..."
	}
	return prefix + "..."
}

const (
	fallbackMaxOwners         = 4
	fallbackMaxEventsPerOwner = 2
)

// fallbackText is the deterministic offline summary: at most the first
// four owners (in display order), at most two events each, with a
// "+N more…" suffix when owners were omitted. Strictly worse than the
// remote text, but always available.
func fallbackText(events []model.Event, primary string, limit int) string {
	if len(events) == 0 {
		return "Nothing scheduled."
	}

	groups := agg.GroupByOwner(events)
	owners := OrderOwners(groups, primary)

	shown := owners
	omitted := 0
	if len(owners) > fallbackMaxOwners {
		shown = owners[:fallbackMaxOwners]
		omitted = len(owners) - fallbackMaxOwners
	}

	clauses := make([]string, 0, len(shown))
	for _, owner := range shown {
		evs := groups[owner]
		if len(evs) > fallbackMaxEventsPerOwner {
			evs = evs[:fallbackMaxEventsPerOwner]
		}
		parts := make([]string, 0, len(evs))
		for _, ev := range evs {
			parts = append(parts, eventClause(ev))
		}
		clauses = append(clauses, fmt.Sprintf("%s: %s.", owner, strings.Join(parts, ", ")))
	}

	text := strings.Join(clauses, " ")
	if omitted > 0 {
		text += fmt.Sprintf(" +%d more…", omitted)
	}
	return TrimToLimit(text, limit)
}

func eventClause(ev model.Event) string {
	if ev.AllDay {
		return ev.Title + " (all day)"
	}
	return fmt.Sprintf("%s %s", ev.Title, ev.Start.Format("15:04"))
}

// buildPrompt renders the remote-generation prompt. Both week variants use
// identical content; only the character budget differs.
func buildPrompt(variant Variant, events []model.Event, primary string, limit int) string {
	var b strings.Builder

	switch variant {
	case VariantToday:
		b.WriteString("Write a warm, glanceable summary of today's household schedule.\n")
	default:
		b.WriteString("Write a warm, glanceable summary of this week's household schedule.\n")
	}
	fmt.Fprintf(&b, "Keep it under %d characters. Plain text, no lists, no emoji.\n", limit)

	if len(events) == 0 {
		b.WriteString("There are no scheduled events.\n")
		return b.String()
	}

	groups := agg.GroupByOwner(events)
	for _, owner := range OrderOwners(groups, primary) {
		parts := make([]string, 0, len(groups[owner]))
		for _, ev := range groups[owner] {
			clause := eventClause(ev)
			if variant != VariantToday {
				clause = ev.Start.Format("Mon") + " " + clause
			}
			if ev.Location != "" {
				clause += " at " + ev.Location
			}
			parts = append(parts, clause)
		}
		fmt.Fprintf(&b, "%s: %s\n", owner, strings.Join(parts, "; "))
	}

	return b.String()
}

// DayBreakdown groups events by calendar day in loc and emits one row per
// day in ascending date order. The highlight is the title of the day's
// chronologically first event.
func DayBreakdown(events []model.Event, loc *time.Location) []model.DaySummary {
	if loc == nil {
		loc = time.Local
	}

	byDay := make(map[time.Time][]model.Event)
	for _, ev := range events {
		start := ev.Start.In(loc)
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		byDay[day] = append(byDay[day], ev)
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]model.DaySummary, 0, len(days))
	for _, day := range days {
		evs := byDay[day]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Start.Before(evs[j].Start) })
		out = append(out, model.DaySummary{
			Date:       day,
			Weekday:    day.Weekday().String(),
			EventCount: len(evs),
			Highlight:  evs[0].Title,
		})
	}
	return out
}
