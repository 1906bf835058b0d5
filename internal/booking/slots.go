package booking

import (
	"sort"
	"time"
)

// Interval is a half-open busy window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// GridSlots returns candidate start times on the business grid for one day.
//
// Candidates step through the resolved working hours by step (the business
// grid interval, not the service duration) and a candidate is kept only if
// the full service duration still fits before closing, it does not overlap
// any busy interval, and it starts strictly after now.
func GridSlots(day DayHours, date time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if !day.IsActive || duration <= 0 || step <= 0 {
		return nil
	}

	open, err := clockOnDate(date, day.Start)
	if err != nil {
		return nil
	}
	close, err := clockOnDate(date, day.End)
	if err != nil {
		return nil
	}
	if !close.After(open) {
		return nil
	}

	var slots []time.Time
	for t := open; !t.Add(duration).After(close); t = t.Add(step) {
		if !t.After(now) {
			continue
		}
		if overlapsAny(t, t.Add(duration), busy) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff
		// start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// mergeSlotTimes unions per-staff candidate sets into one ascending,
// de-duplicated sequence. Used for "any available staff" queries where a
// slot is offered if at least one eligible staff member is free.
func mergeSlotTimes(sets ...[]time.Time) []time.Time {
	seen := make(map[int64]time.Time)
	for _, set := range sets {
		for _, t := range set {
			seen[t.Unix()] = t
		}
	}
	merged := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		merged = append(merged, t)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	return merged
}

// busyIntervals projects non-cancelled appointments onto overlap-check input.
func busyIntervals(appts []Appointment) []Interval {
	var busy []Interval
	for _, a := range appts {
		if !a.Active() {
			continue
		}
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
	}
	return busy
}

// FormatSlot renders a slot start time as the "HH:MM" wire format.
func FormatSlot(t time.Time) string {
	return t.Format("15:04")
}
