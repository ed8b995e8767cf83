// Package occurrence computes the next calendar instant a weekly slot occurs.
package occurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ParseWeekday maps a stored weekday name ("monday".."sunday", case-insensitive)
// to its time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return wd, nil
}

// ParseClock parses an "HH:MM" class time.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return hour, minute, nil
}

// Next returns the next date on or after ref whose weekday is weekday, with the
// time-of-day overwritten to hour:minute (seconds zeroed).
//
// When ref already falls on weekday and hour:minute is earlier in the day, the
// result is still today and therefore lies in the past. Callers decide whether a
// past result is actionable (the booking-window check); Next itself never skips
// to the following week.
func Next(ref time.Time, weekday time.Weekday, hour, minute int) time.Time {
	days := (int(weekday) - int(ref.Weekday()) + 7) % 7
	d := ref.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
}

// DayBefore returns the weekday one day before wd. Booking-attempt triggers are
// anchored here because the provider opens its booking window 24h ahead.
func DayBefore(wd time.Weekday) time.Weekday {
	return time.Weekday((int(wd) + 6) % 7)
}
