package daemon

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DailyTime is a wall-clock time of day with minute resolution.
type DailyTime struct {
	Hour   int
	Minute int
}

// ParseDailyTime parses an "HH:MM" string (24-hour clock).
func ParseDailyTime(s string) (DailyTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || !isTwoDigits(hh) || !isTwoDigits(mm) {
		return DailyTime{}, fmt.Errorf("invalid daily run time %q: want HH:MM", s)
	}

	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return DailyTime{}, fmt.Errorf("invalid daily run time %q: hour must be 00-23", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return DailyTime{}, fmt.Errorf("invalid daily run time %q: minute must be 00-59", s)
	}

	return DailyTime{Hour: hour, Minute: minute}, nil
}

func isTwoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

// String returns the time as HH:MM.
func (t DailyTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Next returns the first occurrence of t in loc strictly after after.
// On days where t falls into a DST gap, time.Date's normalization applies.
func (t DailyTime) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := after.In(loc)

	next := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)
	if !next.After(after) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, t.Hour, t.Minute, 0, 0, loc)
	}
	return next
}
