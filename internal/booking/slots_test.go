package booking

import (
	"testing"
	"time"
)

var testDay = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC) // a Monday

func clock(h, m int) time.Time {
	return time.Date(testDay.Year(), testDay.Month(), testDay.Day(), h, m, 0, 0, time.UTC)
}

func TestGridSlots_FullDay(t *testing.T) {
	day := DayHours{IsActive: true, Start: "09:00", End: "17:00"}

	// 60-minute service on a 30-minute grid: 09:00 through 16:00.
	slots := GridSlots(day, testDay, 60*time.Minute, 30*time.Minute, nil, clock(0, 0))
	if len(slots) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(slots))
	}
	if !slots[0].Equal(clock(9, 0)) {
		t.Errorf("first slot = %s, want 09:00", FormatSlot(slots[0]))
	}
	if !slots[len(slots)-1].Equal(clock(16, 0)) {
		t.Errorf("last slot = %s, want 16:00", FormatSlot(slots[len(slots)-1]))
	}
}

func TestGridSlots_BusyIntervalBlocksOverlaps(t *testing.T) {
	day := DayHours{IsActive: true, Start: "09:00", End: "17:00"}
	busy := []Interval{{Start: clock(10, 0), End: clock(11, 0)}}

	slots := GridSlots(day, testDay, 60*time.Minute, 30*time.Minute, busy, clock(0, 0))

	// 09:30, 10:00 and 10:30 all overlap [10:00, 11:00). 09:00 and 11:00
	// touch the boundary and stay available.
	blocked := map[string]bool{"09:30": true, "10:00": true, "10:30": true}
	for _, s := range slots {
		if blocked[FormatSlot(s)] {
			t.Errorf("slot %s should be blocked by the busy interval", FormatSlot(s))
		}
	}
	if !containsSlot(slots, clock(9, 0)) {
		t.Error("slot 09:00 should remain available")
	}
	if !containsSlot(slots, clock(11, 0)) {
		t.Error("slot 11:00 should remain available")
	}
	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots))
	}
}

func TestGridSlots_NoPartialSlotAtClose(t *testing.T) {
	day := DayHours{IsActive: true, Start: "09:00", End: "10:30"}

	slots := GridSlots(day, testDay, 60*time.Minute, 30*time.Minute, nil, clock(0, 0))
	// 09:30 + 60min ends exactly at close, so it fits. 10:00 does not.
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %v", formatAll(slots))
	}
	if !slots[1].Equal(clock(9, 30)) {
		t.Errorf("last slot = %s, want 09:30", FormatSlot(slots[1]))
	}
}

func TestGridSlots_SkipsPastStarts(t *testing.T) {
	day := DayHours{IsActive: true, Start: "09:00", End: "12:00"}

	slots := GridSlots(day, testDay, 30*time.Minute, 30*time.Minute, nil, clock(10, 0))
	// Starts at or before 10:00 are gone; 10:30 onward remain.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %v", formatAll(slots))
	}
	if !slots[0].Equal(clock(10, 30)) {
		t.Errorf("first slot = %s, want 10:30", FormatSlot(slots[0]))
	}
}

func TestGridSlots_ClosedDay(t *testing.T) {
	if got := GridSlots(DayHours{IsActive: false}, testDay, 30*time.Minute, 30*time.Minute, nil, clock(0, 0)); got != nil {
		t.Fatalf("closed day should yield no slots, got %v", formatAll(got))
	}
}

func TestGridSlots_BadClockYieldsNothing(t *testing.T) {
	day := DayHours{IsActive: true, Start: "9am", End: "17:00"}
	if got := GridSlots(day, testDay, 30*time.Minute, 30*time.Minute, nil, clock(0, 0)); got != nil {
		t.Fatalf("unparseable hours should yield no slots, got %v", formatAll(got))
	}
}

func TestMergeSlotTimes(t *testing.T) {
	a := []time.Time{clock(9, 0), clock(10, 0)}
	b := []time.Time{clock(9, 30), clock(10, 0), clock(11, 0)}

	merged := mergeSlotTimes(a, b)
	want := []time.Time{clock(9, 0), clock(9, 30), clock(10, 0), clock(11, 0)}
	if len(merged) != len(want) {
		t.Fatalf("expected %d merged slots, got %v", len(want), formatAll(merged))
	}
	for i := range want {
		if !merged[i].Equal(want[i]) {
			t.Errorf("merged[%d] = %s, want %s", i, FormatSlot(merged[i]), FormatSlot(want[i]))
		}
	}
}

func TestBusyIntervals_IgnoresCancelled(t *testing.T) {
	appts := []Appointment{
		{Status: StatusConfirmed, StartTime: clock(9, 0), EndTime: clock(10, 0)},
		{Status: StatusCancelled, StartTime: clock(11, 0), EndTime: clock(12, 0)},
		{Status: StatusPending, StartTime: clock(13, 0), EndTime: clock(14, 0)},
	}

	busy := busyIntervals(appts)
	if len(busy) != 2 {
		t.Fatalf("expected 2 busy intervals, got %d", len(busy))
	}
	if !busy[0].Start.Equal(clock(9, 0)) || !busy[1].Start.Equal(clock(13, 0)) {
		t.Error("cancelled appointment should not produce a busy interval")
	}
}

func containsSlot(slots []time.Time, want time.Time) bool {
	for _, s := range slots {
		if s.Equal(want) {
			return true
		}
	}
	return false
}

func formatAll(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, FormatSlot(s))
	}
	return out
}
