package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EffectiveHours resolves the open/closed schedule for one weekday.
//
// Order: a staff-specific row wins when a staff member is given and the
// business has the staff module enabled; otherwise the business-level row
// applies; a weekday with no row at all is closed. Absent configuration is
// a normal "closed" answer, never an error, so slot generation downstream
// yields an empty set.
func EffectiveHours(b *Business, hours []WorkingHours, staffID *uuid.UUID, weekday time.Weekday) DayHours {
	if staffID != nil && b.StaffModuleEnabled {
		for _, wh := range hours {
			if wh.Weekday == weekday && wh.StaffID != nil && *wh.StaffID == *staffID {
				return DayHours{IsActive: wh.IsActive, Start: wh.StartTime, End: wh.EndTime}
			}
		}
	}
	for _, wh := range hours {
		if wh.Weekday == weekday && wh.StaffID == nil {
			return DayHours{IsActive: wh.IsActive, Start: wh.StartTime, End: wh.EndTime}
		}
	}
	return DayHours{IsActive: false}
}

// parseClock parses a "HH:MM" 24h clock string. Exactly two digits on each
// side of the colon, nothing else.
func parseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	for _, i := range [...]int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("invalid clock time %q", s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, 0, fmt.Errorf("clock time out of range %q", s)
	}
	return h, m, nil
}

// clockOnDate anchors a "HH:MM" clock time on the given calendar date.
func clockOnDate(date time.Time, clock string) (time.Time, error) {
	h, m, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, date.Location()), nil
}
